package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/storage"
)

// ArchivePrefix is the storage prefix of archived dead letters.
const ArchivePrefix = "dead-letters"

// DeadLetterObserver reports records that reached a dead-letter topic. It
// never re-processes them.
type DeadLetterObserver struct {
	store storage.Storage
}

// NewDeadLetterObserver creates an observer. store may be nil to only log.
func NewDeadLetterObserver(store storage.Storage) *DeadLetterObserver {
	return &DeadLetterObserver{store: store}
}

// Handle logs rec and archives it when storage is configured.
func (o *DeadLetterObserver) Handle(ctx context.Context, rec Record) error {
	dl := DecodeDeadLetter(rec)
	if !json.Valid(dl.Message) {
		raw, _ := json.Marshal(string(rec.Value))
		dl.Message = raw
	}

	l := log.Ctx(ctx)
	event := l.Error().
		Str(log.FieldTopic, dl.Topic).
		Int32(log.FieldPartition, dl.Partition).
		Int64(log.FieldOffset, dl.Offset).
		Int(log.FieldAttempts, dl.Attempts).
		Time("failed_at", dl.FailedAt).
		Str("cause", dl.Cause)
	sender := ""
	if msg, ok := dl.ChatMessage(); ok {
		sender = msg.Sender
		event = event.
			Int64(log.FieldMessageID, msg.ID).
			Str(log.FieldUsername, msg.Sender).
			Str(log.FieldRoomID, msg.RoomID).
			Time("sent_at", msg.Timestamp)
	} else {
		event = event.RawJSON("value", dl.Message)
	}
	event.Msg("message dead-lettered")

	audit.LogWithDetail(ctx, audit.ActionMessageDeadLetter, sender, dl.Cause, "message dead-lettered")

	if o.store == nil {
		return nil
	}

	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}

	key := ArchiveKey(dl)
	if err := o.store.Write(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("failed to archive dead letter %s: %w", key, err)
	}
	return nil
}

// ArchiveKey returns dead-letters/<topic>/<yyyy-mm-dd>/<partition>-<offset>.json
// for dl, dated by its failure time.
func ArchiveKey(dl *domain.DeadLetter) string {
	day := dl.FailedAt.UTC().Format("2006-01-02")
	return path.Join(ArchivePrefix, dl.Topic, day, fmt.Sprintf("%d-%d.json", dl.Partition, dl.Offset))
}
