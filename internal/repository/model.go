package repository

import (
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// MessageModel is the GORM model for the chat_messages table.
type MessageModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Content     string    `gorm:"type:text;not null"`
	Sender      string    `gorm:"type:varchar(100);index;not null"`
	RoomID      string    `gorm:"type:varchar(100);index:idx_room_created,priority:1;not null"`
	DeliveryKey *string   `gorm:"type:varchar(255);uniqueIndex"`
	CreatedAt   time.Time `gorm:"index:idx_room_created,priority:2;not null"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "chat_messages"
}

// ToDomain converts MessageModel to domain ChatMessage.
func (m *MessageModel) ToDomain() *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:        m.ID,
		Content:   m.Content,
		Sender:    m.Sender,
		RoomID:    m.RoomID,
		Timestamp: m.CreatedAt.UTC(),
	}
}

func messageToModel(msg *domain.ChatMessage, key DeliveryKey) *MessageModel {
	m := &MessageModel{
		Content:   msg.Content,
		Sender:    msg.Sender,
		RoomID:    msg.RoomID,
		CreatedAt: msg.Timestamp,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if key != "" {
		k := string(key)
		m.DeliveryKey = &k
	}
	return m
}
