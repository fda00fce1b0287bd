package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxContentLength is the largest accepted message body, in runes.
const MaxContentLength = 4000

// MaxNameLength bounds sender and room identifiers to their column width.
const MaxNameLength = 100

// ChatMessage is the unit flowing through the durable pipeline. ID is zero
// until persistence assigns it and is omitted from the wire until then.
type ChatMessage struct {
	ID        int64     `json:"id,omitempty"`
	Content   string    `json:"content" validate:"required"`
	Sender    string    `json:"sender" validate:"required,max=100"`
	RoomID    string    `json:"roomId" validate:"required,max=100"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingEvent is broadcast on typing.<roomId> and never persisted.
type TypingEvent struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// PresenceUpdate is broadcast on presence.<roomName> and never persisted.
type PresenceUpdate struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Room is a read-only view of a room the user belongs to.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var validate = validator.New()

// Validate checks required fields and content length. Failures wrap
// ErrInvalidMessage.
func (m *ChatMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: content is blank", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(m.Content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidMessage, MaxContentLength)
	}
	return nil
}

// DecodeChatMessage parses and validates a queue record value.
func DecodeChatMessage(data []byte) (*ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
