package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

func newTestRepo(t *testing.T) (*GormMessageRepository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewGormMessageRepository(db)
	require.NoError(t, repo.Migrate())
	return repo, db
}

func TestGormMessageRepository_SaveAssignsID(t *testing.T) {
	repo, _ := newTestRepo(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	in := &domain.ChatMessage{Content: "hi", Sender: "alice", RoomID: "General", Timestamp: ts}
	saved, err := repo.Save(context.Background(), in, NewDeliveryKey("chat-messages", 0, 1))
	require.NoError(t, err)

	assert.NotZero(t, saved.ID)
	assert.Zero(t, in.ID)
	assert.Equal(t, "hi", saved.Content)
	assert.Equal(t, "alice", saved.Sender)
	assert.Equal(t, "General", saved.RoomID)
	assert.True(t, ts.Equal(saved.Timestamp))
}

func TestGormMessageRepository_RedeliveryIsIdempotent(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	key := NewDeliveryKey("chat-messages", 2, 40)
	msg := &domain.ChatMessage{Content: "hi", Sender: "alice", RoomID: "General"}

	first, err := repo.Save(ctx, msg, key)
	require.NoError(t, err)
	second, err := repo.Save(ctx, msg, key)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&MessageModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormMessageRepository_DistinctKeysDistinctRows(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	msg := &domain.ChatMessage{Content: "hi", Sender: "alice", RoomID: "General"}

	a, err := repo.Save(ctx, msg, NewDeliveryKey("chat-messages", 0, 1))
	require.NoError(t, err)
	b, err := repo.Save(ctx, msg, NewDeliveryKey("chat-messages", 0, 2))
	require.NoError(t, err)
	c, err := repo.Save(ctx, msg, "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, b.ID, c.ID)
	assert.False(t, c.Timestamp.IsZero())
}

func TestNewDeliveryKey(t *testing.T) {
	assert.Equal(t, DeliveryKey("chat-messages/3/99"), NewDeliveryKey("chat-messages", 3, 99))
}
