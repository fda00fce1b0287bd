package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/storage"
)

func deadLetterRecord(t *testing.T, value string) Record {
	t.Helper()

	failedAt := time.Date(2025, 3, 9, 23, 59, 0, 0, time.UTC)
	orig := Record{Topic: "chat-messages", Partition: 3, Offset: 41, Key: []byte("42"), Value: []byte(value)}

	headers := make(map[string]string)
	for _, h := range deadLetterHeaders(orig, errors.New("database unavailable"), 4, failedAt) {
		headers[h.Key] = string(h.Value)
	}

	return Record{
		Topic:     domain.DeadLetterTopic("chat-messages"),
		Partition: 0,
		Offset:    7,
		Key:       orig.Key,
		Value:     orig.Value,
		Headers:   headers,
	}
}

func TestDecodeDeadLetter_RestoresOrigin(t *testing.T) {
	dl := DecodeDeadLetter(deadLetterRecord(t, validValue))

	assert.Equal(t, "chat-messages", dl.Topic)
	assert.Equal(t, int32(3), dl.Partition)
	assert.Equal(t, int64(41), dl.Offset)
	assert.Equal(t, 4, dl.Attempts)
	assert.Equal(t, "database unavailable", dl.Cause)
	assert.Equal(t, "42", dl.Key)
	assert.True(t, dl.FailedAt.Equal(time.Date(2025, 3, 9, 23, 59, 0, 0, time.UTC)))

	msg, ok := dl.ChatMessage()
	require.True(t, ok)
	assert.Equal(t, "alice", msg.Sender)
}

func TestDecodeDeadLetter_MissingHeaders(t *testing.T) {
	dl := DecodeDeadLetter(Record{Topic: "chat-messages-dlt", Partition: 1, Offset: 9, Value: []byte(`{}`)})

	assert.Equal(t, "chat-messages", dl.Topic)
	assert.Equal(t, int32(1), dl.Partition)
	assert.Equal(t, int64(9), dl.Offset)
	assert.Zero(t, dl.Attempts)
	assert.True(t, dl.FailedAt.IsZero())
}

func TestArchiveKey(t *testing.T) {
	dl := &domain.DeadLetter{
		Topic:     "chat-messages",
		Partition: 3,
		Offset:    41,
		FailedAt:  time.Date(2025, 3, 9, 23, 59, 0, 0, time.UTC),
	}
	assert.Equal(t, "dead-letters/chat-messages/2025-03-09/3-41.json", ArchiveKey(dl))
}

func TestDeadLetterObserver_ArchivesRecord(t *testing.T) {
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	obs := NewDeadLetterObserver(store)

	require.NoError(t, obs.Handle(context.Background(), deadLetterRecord(t, validValue)))

	rc, err := store.Read(context.Background(), "dead-letters/chat-messages/2025-03-09/3-41.json")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	var archived domain.DeadLetter
	require.NoError(t, json.Unmarshal(data, &archived))
	assert.Equal(t, 4, archived.Attempts)
	assert.JSONEq(t, validValue, string(archived.Message))
}

func TestDeadLetterObserver_ArchivesUndecodableValueAsString(t *testing.T) {
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	obs := NewDeadLetterObserver(store)

	require.NoError(t, obs.Handle(context.Background(), deadLetterRecord(t, "not json")))

	rc, err := store.Read(context.Background(), "dead-letters/chat-messages/2025-03-09/3-41.json")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	var archived domain.DeadLetter
	require.NoError(t, json.Unmarshal(data, &archived))
	assert.Equal(t, `"not json"`, string(archived.Message))
}

func TestDeadLetterObserver_WithoutStorageOnlyLogs(t *testing.T) {
	obs := NewDeadLetterObserver(nil)
	assert.NoError(t, obs.Handle(context.Background(), deadLetterRecord(t, validValue)))
}
