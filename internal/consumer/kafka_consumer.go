package consumer

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-chat/internal/retry"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Config configures a consumer group.
type Config struct {
	Brokers             string
	Topic               string
	GroupID             string `mapstructure:"group_id"`
	AutoOffsetReset     string `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMs   int    `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMs    int    `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMs int    `mapstructure:"heartbeat_interval_ms"`
	FetchMinBytes       int    `mapstructure:"fetch_min_bytes"`
	FetchMaxWaitMs      int    `mapstructure:"fetch_max_wait_ms"`
	QueueSize           int    `mapstructure:"queue_size"`
}

// Consumer reads a topic with manual acknowledgement. Offsets are committed
// only after a record has been handled or dead-lettered.
type Consumer struct {
	consumer   *kafka.Consumer
	cfg        Config
	handler    Handler
	policy     retry.Policy
	dlq        DeadLetterPublisher
	dispatcher *Dispatcher
}

// NewConsumer creates a Kafka consumer. dlq may be nil.
func NewConsumer(cfg Config, handler Handler, policy retry.Policy, dlq DeadLetterPublisher) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":     cfg.Brokers,
		"group.id":              cfg.GroupID,
		"auto.offset.reset":     cfg.AutoOffsetReset,
		"enable.auto.commit":    false,
		"max.poll.interval.ms":  cfg.MaxPollIntervalMs,
		"session.timeout.ms":    cfg.SessionTimeoutMs,
		"heartbeat.interval.ms": cfg.HeartbeatIntervalMs,
		"fetch.min.bytes":       cfg.FetchMinBytes,
		"fetch.wait.max.ms":     cfg.FetchMaxWaitMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer: c,
		cfg:      cfg,
		handler:  handler,
		policy:   policy,
		dlq:      dlq,
	}, nil
}

// Run consumes until ctx is cancelled. Records in flight are finished before
// it returns.
func (c *Consumer) Run(ctx context.Context) error {
	c.dispatcher = NewDispatcher(ctx, c.handler, c.policy, c, c.dlq, c.cfg.QueueSize)
	defer c.dispatcher.Close()

	if err := c.consumer.Subscribe(c.cfg.Topic, c.rebalance); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.cfg.Topic, err)
	}

	l := log.L()
	l.Info().Str(log.FieldTopic, c.cfg.Topic).Str("group", c.cfg.GroupID).Msg("kafka consumer started")

	for {
		select {
		case <-ctx.Done():
			l.Info().Str(log.FieldTopic, c.cfg.Topic).Msg("kafka consumer stopping")
			return nil
		default:
		}

		c.resumeDrained()
		c.applyRewinds()

		ev := c.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				l.Warn().Err(e.TopicPartition.Error).Msg("kafka consume error")
				continue
			}
			rec := recordFromKafka(e)
			if !c.dispatcher.Dispatch(rec) {
				c.pause(rec)
			}
		case kafka.Error:
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka error")
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error: %w", e)
			}
		default:
			// Ignore other events
		}
	}
}

// Commit acknowledges rec by committing the next offset of its partition.
func (c *Consumer) Commit(rec Record) error {
	_, err := c.consumer.CommitOffsets([]kafka.TopicPartition{{
		Topic:     &rec.Topic,
		Partition: rec.Partition,
		Offset:    kafka.Offset(rec.Offset + 1),
	}})
	return err
}

// Close closes the Kafka consumer.
func (c *Consumer) Close() error {
	l := log.L()
	l.Info().Str(log.FieldTopic, c.cfg.Topic).Msg("closing kafka consumer")
	return c.consumer.Close()
}

func (c *Consumer) rebalance(_ *kafka.Consumer, ev kafka.Event) error {
	if e, ok := ev.(kafka.RevokedPartitions); ok {
		revoked := make([]Record, 0, len(e.Partitions))
		for _, tp := range e.Partitions {
			if tp.Topic != nil {
				revoked = append(revoked, Record{Topic: *tp.Topic, Partition: tp.Partition})
			}
		}
		c.dispatcher.Revoke(revoked)
	}
	return nil
}

// pause stops fetching rec's partition and rewinds it so rec is fetched
// again after resume.
func (c *Consumer) pause(rec Record) {
	l := log.L()
	tp := kafka.TopicPartition{Topic: &rec.Topic, Partition: rec.Partition}
	if err := c.consumer.Pause([]kafka.TopicPartition{tp}); err != nil {
		l.Error().Err(err).Str(log.FieldTopic, rec.Topic).Int32(log.FieldPartition, rec.Partition).Msg("failed to pause partition")
	}
	c.seek(rec)
	l.Debug().Str(log.FieldTopic, rec.Topic).Int32(log.FieldPartition, rec.Partition).Msg("partition paused")
}

func (c *Consumer) resumeDrained() {
	for _, rec := range c.dispatcher.Resumable() {
		tp := kafka.TopicPartition{Topic: &rec.Topic, Partition: rec.Partition}
		if err := c.consumer.Resume([]kafka.TopicPartition{tp}); err != nil {
			l := log.L()
			l.Error().Err(err).Str(log.FieldTopic, rec.Topic).Int32(log.FieldPartition, rec.Partition).Msg("failed to resume partition")
		}
	}
}

func (c *Consumer) applyRewinds() {
	for _, rec := range c.dispatcher.Rewinds() {
		c.seek(rec)
	}
}

func (c *Consumer) seek(rec Record) {
	tp := kafka.TopicPartition{Topic: &rec.Topic, Partition: rec.Partition, Offset: kafka.Offset(rec.Offset)}
	if err := c.consumer.Seek(tp, 0); err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldTopic, rec.Topic).Int32(log.FieldPartition, rec.Partition).
			Int64(log.FieldOffset, rec.Offset).Msg("failed to seek partition")
	}
}
