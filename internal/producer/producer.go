// Package producer appends chat messages to the durable chat topic.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Publisher accepts a validated message for the durable queue. Publish is
// fire-and-forget: it returns only failures to enqueue the record locally
// (encoding, a full producer queue, a closed producer). Broker delivery
// failures arrive later on the delivery report and are logged, not returned.
type Publisher interface {
	Publish(ctx context.Context, msg *domain.ChatMessage) error
	Close() error
}

// Config holds the chat topic settings.
type Config struct {
	Brokers           string `mapstructure:"brokers"`
	Topic             string `mapstructure:"topic"`
	Partitions        int    `mapstructure:"partitions"`
	ReplicationFactor int    `mapstructure:"replication_factor"`
}

type KafkaProducer struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

func NewKafkaProducer(cfg Config) (*KafkaProducer, error) {
	if err := EnsureTopics(cfg); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldTopic, cfg.Topic).Msg("failed to ensure topics (may already exist)")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          5,
		"compression.type":   "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &KafkaProducer{
		producer: p,
		topic:    cfg.Topic,
		doneCh:   make(chan struct{}),
	}

	go kp.deliveryReportHandler()

	return kp, nil
}

// EnsureTopics creates the chat topic and its dead-letter topic.
func EnsureTopics(cfg Config) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{Topic: cfg.Topic, NumPartitions: partitions, ReplicationFactor: replication},
		{Topic: domain.DeadLetterTopic(cfg.Topic), NumPartitions: partitions, ReplicationFactor: replication},
	})
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}

	return nil
}

func (kp *KafkaProducer) deliveryReportHandler() {
	for e := range kp.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l := log.L()
				l.Error().
					Err(ev.TopicPartition.Error).
					Str(log.FieldTopic, kp.topic).
					Str(log.FieldRoomID, string(ev.Key)).
					Msg("kafka delivery failed")
			}
		case kafka.Error:
			l := log.L()
			l.Error().Err(ev).Msg("kafka producer error")
		}
	}
	close(kp.doneCh)
}

// Publish stamps a missing timestamp and produces the message keyed by room,
// so one room always lands on one partition.
func (kp *KafkaProducer) Publish(ctx context.Context, msg *domain.ChatMessage) error {
	key, value, err := encode(msg, time.Now)
	if err != nil {
		return err
	}

	err = kp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kp.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   key,
		Value: value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// encode returns the record key and value. The input is not mutated.
func encode(msg *domain.ChatMessage, now func() time.Time) ([]byte, []byte, error) {
	out := *msg
	if out.Timestamp.IsZero() {
		out.Timestamp = now().UTC()
	}

	value, err := json.Marshal(&out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal chat message: %w", err)
	}
	return []byte(out.RoomID), value, nil
}

func (kp *KafkaProducer) Close() error {
	kp.producer.Flush(5000)
	kp.producer.Close()
	<-kp.doneCh
	return nil
}
