package domain

import "errors"

var (
	// ErrInvalidMessage marks malformed input. It is never retried.
	ErrInvalidMessage = errors.New("invalid message")
	ErrUserNotFound   = errors.New("user not found")
	ErrRoomNotFound   = errors.New("room not found")
)
