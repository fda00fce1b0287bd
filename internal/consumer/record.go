package consumer

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Record is one queue record, detached from the broker client.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Handler processes one record. A nil error acknowledges it.
type Handler func(ctx context.Context, rec Record) error

func (r Record) partitionKey() string {
	return fmt.Sprintf("%s/%d", r.Topic, r.Partition)
}

func recordFromKafka(msg *kafka.Message) Record {
	rec := Record{
		Partition: msg.TopicPartition.Partition,
		Offset:    int64(msg.TopicPartition.Offset),
		Key:       msg.Key,
		Value:     msg.Value,
	}
	if msg.TopicPartition.Topic != nil {
		rec.Topic = *msg.TopicPartition.Topic
	}
	if len(msg.Headers) > 0 {
		rec.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			rec.Headers[h.Key] = string(h.Value)
		}
	}
	return rec
}
