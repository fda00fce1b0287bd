package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

const defaultChannelPrefix = "bus:"

// RedisPubSub implements PubSub interface using Redis.
type RedisPubSub struct {
	client        *redis.Client
	prefix        string
	subscriptions map[string]*redis.PubSub
	mu            sync.RWMutex
}

// NewRedisPubSub creates a new Redis-based PubSub instance.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisPubSubWithClient(client, cfg.ChannelPrefix), nil
}

// NewRedisPubSubWithClient wraps an existing client. Close closes the client.
func NewRedisPubSubWithClient(client *redis.Client, prefix string) *RedisPubSub {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisPubSub{
		client:        client,
		prefix:        prefix,
		subscriptions: make(map[string]*redis.PubSub),
	}
}

// Publish publishes an event to the channel backing destination.
func (r *RedisPubSub) Publish(ctx context.Context, destination string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.client.Publish(ctx, r.prefix+destination, data).Err()
}

// Subscribe subscribes to a single destination.
func (r *RedisPubSub) Subscribe(ctx context.Context, destination string) (<-chan *Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pubsub := r.client.Subscribe(ctx, r.prefix+destination)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", destination, err)
	}
	r.replace(destination, pubsub)

	eventCh := make(chan *Event, 256)
	go r.processMessages(ctx, pubsub, eventCh)

	return eventCh, nil
}

// SubscribePattern subscribes to destinations matching a glob pattern.
func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pubsub := r.client.PSubscribe(ctx, r.prefix+pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to psubscribe to %s: %w", pattern, err)
	}
	r.replace(pattern, pubsub)

	eventCh := make(chan *Event, 256)
	go r.processMessages(ctx, pubsub, eventCh)

	return eventCh, nil
}

// replace must be called with mu held.
func (r *RedisPubSub) replace(key string, pubsub *redis.PubSub) {
	if existing, ok := r.subscriptions[key]; ok {
		existing.Close()
	}
	r.subscriptions[key] = pubsub
}

// Unsubscribe closes the subscription registered under a destination or pattern.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pubsub, ok := r.subscriptions[key]; ok {
		if err := pubsub.Close(); err != nil {
			return err
		}
		delete(r.subscriptions, key)
	}

	return nil
}

// Close closes all subscriptions and the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pubsub := range r.subscriptions {
		pubsub.Close()
	}
	r.subscriptions = make(map[string]*redis.PubSub)

	return r.client.Close()
}

// processMessages forwards events in channel order. A full consumer blocks
// the subscription rather than dropping, so per-destination order holds.
func (r *RedisPubSub) processMessages(ctx context.Context, pubsub *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Str("channel", msg.Channel).Msg("pubsub: dropping malformed event")
				continue
			}
			if event.Destination == "" {
				event.Destination = strings.TrimPrefix(msg.Channel, r.prefix)
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// GetClient returns the underlying Redis client for advanced operations.
func (r *RedisPubSub) GetClient() *redis.Client {
	return r.client
}
