package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// GormMessageRepository implements MessageRepository on a relational store.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Migrate creates or updates the chat_messages table.
func (r *GormMessageRepository) Migrate() error {
	return r.db.AutoMigrate(&MessageModel{})
}

// Save inserts the message. A conflicting delivery key means the record was
// already persisted by an earlier delivery; the existing row is returned.
// Rows the database rejects as invalid data wrap domain.ErrInvalidMessage.
func (r *GormMessageRepository) Save(ctx context.Context, msg *domain.ChatMessage, key DeliveryKey) (*domain.ChatMessage, error) {
	l := log.Ctx(ctx)

	model := messageToModel(msg, key)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "delivery_key"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldRoomID, msg.RoomID).Msg("failed to insert chat message")
		return nil, classifyWriteError(result.Error)
	}

	if result.RowsAffected > 0 {
		return model.ToDomain(), nil
	}

	var existing MessageModel
	if err := r.db.WithContext(ctx).Where("delivery_key = ?", string(key)).First(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load deduplicated message: %w", err)
	}

	l.Info().
		Str("delivery_key", string(key)).
		Int64(log.FieldMessageID, existing.ID).
		Msg("redelivered record already persisted")

	return existing.ToDomain(), nil
}
