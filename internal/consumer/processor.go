package consumer

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-chat/internal/bus"
	"github.com/weiawesome/wes-io-chat/internal/destination"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/repository"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Processor persists a chat message and then broadcasts it to its room.
type Processor struct {
	repo repository.MessageRepository
	bus  bus.Bus
}

// NewProcessor creates a processor.
func NewProcessor(repo repository.MessageRepository, b bus.Bus) *Processor {
	return &Processor{repo: repo, bus: b}
}

// Process decodes value, stores it under key and broadcasts the stored copy
// on chat.<roomId>. Decode failures wrap domain.ErrInvalidMessage.
func (p *Processor) Process(ctx context.Context, value []byte, key repository.DeliveryKey) error {
	msg, err := domain.DecodeChatMessage(value)
	if err != nil {
		return err
	}

	saved, err := p.repo.Save(ctx, msg, key)
	if err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	dest := destination.ChatOf(saved.RoomID)
	if err := p.bus.Send(ctx, dest, saved); err != nil {
		return fmt.Errorf("failed to broadcast message %d: %w", saved.ID, err)
	}

	l := log.Ctx(ctx)
	l.Debug().
		Int64(log.FieldMessageID, saved.ID).
		Str(log.FieldRoomID, saved.RoomID).
		Str(log.FieldUsername, saved.Sender).
		Msg("message persisted and broadcast")

	return nil
}

// Handle adapts Process to a consumer Handler.
func (p *Processor) Handle(ctx context.Context, rec Record) error {
	return p.Process(ctx, rec.Value, repository.NewDeliveryKey(rec.Topic, rec.Partition, rec.Offset))
}
