package repository

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// DeliveryKey identifies one queue record, "<topic>/<partition>/<offset>".
// Saving the same key twice returns the first row instead of a duplicate.
type DeliveryKey string

// NewDeliveryKey builds the key for a queue record.
func NewDeliveryKey(topic string, partition int32, offset int64) DeliveryKey {
	return DeliveryKey(fmt.Sprintf("%s/%d/%d", topic, partition, offset))
}

// MessageRepository persists chat messages and assigns their ids.
type MessageRepository interface {
	// Save stores msg and returns the persisted copy with ID set. The
	// input is not mutated.
	Save(ctx context.Context, msg *domain.ChatMessage, key DeliveryKey) (*domain.ChatMessage, error)
}
