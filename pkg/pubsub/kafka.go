package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// busKinds are the destination families carried over Kafka, one topic each.
var busKinds = []string{"chat", "typing", "presence", "user"}

// destinationToTopicAndKey maps a destination to a Kafka topic and message key.
//
//	"chat.42"          → topic: "bus-chat",     key: "42"
//	"presence.general" → topic: "bus-presence", key: "general"
//	"user.alice.queue" → topic: "bus-user",     key: "alice.queue"
//
// Keying by the remainder keeps every destination on one partition, which
// preserves per-room order.
func destinationToTopicAndKey(prefix, destination string) (topic, key string, err error) {
	kind, rest, ok := strings.Cut(destination, ".")
	if !ok || kind == "" || rest == "" {
		return "", "", fmt.Errorf("invalid destination format: %s", destination)
	}
	return prefix + kind, rest, nil
}

// patternToTopic maps a subscribe pattern to a topic or topic regex.
//
//	"chat.*" → "bus-chat"
//	"*"      → "^bus-.*"
func patternToTopic(prefix, pattern string) (string, error) {
	if pattern == "*" {
		return "^" + regexp.QuoteMeta(prefix) + ".*", nil
	}
	kind, rest, ok := strings.Cut(pattern, ".")
	if !ok || kind == "" || rest != "*" {
		return "", fmt.Errorf("unsupported pattern: %s", pattern)
	}
	return prefix + kind, nil
}

// kafkaSubscription tracks a single consumer subscription.
type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// KafkaPubSub implements PubSub interface using Apache Kafka.
//
// Every instance consumes with its own group id so that each gateway replica
// sees every event, matching Redis pub/sub fan-out.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[string]*kafkaSubscription
	config        KafkaConfig
	instanceID    string
	mu            sync.Mutex
	doneCh        chan struct{}
}

// NewKafkaPubSub creates a new Kafka-based PubSub instance.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "bus-"
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
		instanceID:    uuid.New().String(),
		doneCh:        make(chan struct{}),
	}

	go kps.deliveryReportHandler()

	if err := kps.ensureTopics(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to ensure kafka bus topics (may already exist)")
	}

	return kps, nil
}

// ensureTopics creates one topic per destination kind if missing.
func (k *KafkaPubSub) ensureTopics() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topics := make([]kafka.TopicSpecification, 0, len(busKinds))
	for _, kind := range busKinds {
		topics = append(topics, kafka.TopicSpecification{
			Topic:             k.config.TopicPrefix + kind,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}

	results, err := admin.CreateTopics(ctx, topics)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			l := log.L()
			l.Warn().Str(log.FieldTopic, r.Topic).Err(r.Error).Msg("failed to create topic")
		}
	}

	return nil
}

// deliveryReportHandler processes delivery reports from the producer.
func (k *KafkaPubSub) deliveryReportHandler() {
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l := log.L()
				l.Error().Err(ev.TopicPartition.Error).Msg("kafka pubsub delivery failed")
			}
		}
	}
	close(k.doneCh)
}

// Publish publishes an event to the topic backing destination.
func (k *KafkaPubSub) Publish(ctx context.Context, destination string, event *Event) error {
	topic, key, err := destinationToTopicAndKey(k.config.TopicPrefix, destination)
	if err != nil {
		return fmt.Errorf("failed to parse destination: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Subscribe subscribes to a single destination, filtering its topic by key.
func (k *KafkaPubSub) Subscribe(ctx context.Context, destination string) (<-chan *Event, error) {
	topic, _, err := destinationToTopicAndKey(k.config.TopicPrefix, destination)
	if err != nil {
		return nil, fmt.Errorf("failed to parse destination: %w", err)
	}

	return k.subscribeToTopic(ctx, destination, topic, destination)
}

// SubscribePattern consumes every event on the topics matching pattern.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, err := patternToTopic(k.config.TopicPrefix, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pattern: %w", err)
	}

	return k.subscribeToTopic(ctx, pattern, topic, "")
}

func (k *KafkaPubSub) subscribeToTopic(ctx context.Context, subKey, topic, filter string) (<-chan *Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.subscriptions[subKey]; ok {
		existing.cancel()
		<-existing.done
		delete(k.subscriptions, subKey)
	}

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "chat-bus"
	}
	consumerGroupID := fmt.Sprintf("%s-%s-%s", groupID, k.instanceID, sanitizeGroupID(subKey))

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                consumerGroupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	eventCh := make(chan *Event, 256)
	sub := &kafkaSubscription{consumer: c, cancel: cancel, done: make(chan struct{})}
	k.subscriptions[subKey] = sub

	go k.consumeMessages(subCtx, sub, eventCh, filter)

	return eventCh, nil
}

// consumeMessages polls Kafka and forwards events to the channel. The
// consumer is closed on the polling goroutine once ctx is cancelled.
func (k *KafkaPubSub) consumeMessages(ctx context.Context, sub *kafkaSubscription, eventCh chan<- *Event, filter string) {
	defer close(sub.done)
	defer close(eventCh)
	defer sub.consumer.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := sub.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Msg("kafka pubsub: failed to unmarshal event")
				continue
			}
			if filter != "" && event.Destination != filter {
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			}

		case kafka.Error:
			l := log.L()
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// Unsubscribe stops the subscription registered under a destination or pattern.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if sub, ok := k.subscriptions[key]; ok {
		sub.cancel()
		<-sub.done
		delete(k.subscriptions, key)
	}

	return nil
}

// Close closes all subscriptions and the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, sub := range k.subscriptions {
		sub.cancel()
		<-sub.done
		delete(k.subscriptions, key)
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh

	return nil
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeGroupID replaces characters not suitable for Kafka group IDs.
func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
