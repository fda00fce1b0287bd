package consumer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// KafkaDeadLetterPublisher republishes failed records to <topic>-dlt with
// the failure recorded in headers. Key and value are left untouched.
type KafkaDeadLetterPublisher struct {
	producer *kafka.Producer
	now      func() time.Time
}

// NewKafkaDeadLetterPublisher creates a publisher with its own idempotent
// producer.
func NewKafkaDeadLetterPublisher(brokers string) (*KafkaDeadLetterPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dead-letter producer: %w", err)
	}
	return &KafkaDeadLetterPublisher{producer: p, now: time.Now}, nil
}

// Publish produces rec to its dead-letter topic and waits for the broker to
// acknowledge it.
func (p *KafkaDeadLetterPublisher) Publish(ctx context.Context, rec Record, cause error, attempts int) error {
	topic := domain.DeadLetterTopic(rec.Topic)

	delivery := make(chan kafka.Event, 1)
	err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: deadLetterHeaders(rec, cause, attempts, p.now().UTC()),
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery to %s failed: %w", topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending records and closes the producer.
func (p *KafkaDeadLetterPublisher) Close() {
	p.producer.Flush(5000)
	p.producer.Close()
}

func deadLetterHeaders(rec Record, cause error, attempts int, failedAt time.Time) []kafka.Header {
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	return []kafka.Header{
		{Key: domain.HeaderDLTCause, Value: []byte(msg)},
		{Key: domain.HeaderDLTAttempts, Value: []byte(strconv.Itoa(attempts))},
		{Key: domain.HeaderDLTFailedAt, Value: []byte(failedAt.Format(time.RFC3339Nano))},
		{Key: domain.HeaderDLTOriginalPartition, Value: []byte(strconv.Itoa(int(rec.Partition)))},
		{Key: domain.HeaderDLTOriginalOffset, Value: []byte(strconv.FormatInt(rec.Offset, 10))},
	}
}

// DecodeDeadLetter rebuilds the failure report of a record read from a
// dead-letter topic. Missing or malformed headers leave their fields zero.
func DecodeDeadLetter(rec Record) *domain.DeadLetter {
	dl := &domain.DeadLetter{
		Message:   rec.Value,
		Key:       string(rec.Key),
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Cause:     rec.Headers[domain.HeaderDLTCause],
	}

	if origin, ok := strings.CutSuffix(rec.Topic, domain.DLTSuffix); ok {
		dl.Topic = origin
	}
	if v, err := strconv.Atoi(rec.Headers[domain.HeaderDLTAttempts]); err == nil {
		dl.Attempts = v
	}
	if v, err := time.Parse(time.RFC3339Nano, rec.Headers[domain.HeaderDLTFailedAt]); err == nil {
		dl.FailedAt = v
	}
	if v, err := strconv.ParseInt(rec.Headers[domain.HeaderDLTOriginalPartition], 10, 32); err == nil {
		dl.Partition = int32(v)
	}
	if v, err := strconv.ParseInt(rec.Headers[domain.HeaderDLTOriginalOffset], 10, 64); err == nil {
		dl.Offset = v
	}

	return dl
}
