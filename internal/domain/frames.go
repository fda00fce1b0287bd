package domain

import "encoding/json"

// Frame types from client.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"
	FramePing        = "ping"
)

// Frame types to client.
const (
	FrameConnected = "connected"
	FrameMessage   = "message"
	FrameReceipt   = "receipt"
	FrameError     = "error"
	FramePong      = "pong"
)

// Error codes
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeSubscriptionDeny = "SUBSCRIPTION_DENIED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// InboundFrame is any client frame. ID is the subscription id for
// subscribe/unsubscribe and an optional receipt id for send.
type InboundFrame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// MessageFrame carries a broadcast payload to one subscription.
type MessageFrame struct {
	Type         string          `json:"type"`
	Subscription string          `json:"subscription"`
	Destination  string          `json:"destination"`
	Body         json.RawMessage `json:"body"`
}

type ReceiptFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type ConnectedFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func NewErrorFrame(code, message, id string) *ErrorFrame {
	return &ErrorFrame{
		Type:    FrameError,
		Code:    code,
		Message: message,
		ID:      id,
	}
}

func NewReceiptFrame(id string) *ReceiptFrame {
	return &ReceiptFrame{Type: FrameReceipt, ID: id}
}
