package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisPubSub(t *testing.T) *RedisPubSub {
	t.Helper()
	mr := miniredis.RunT(t)
	ps := NewRedisPubSubWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { ps.Close() })
	return ps
}

func receive(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRedisPubSub_PatternDeliversInOrder(t *testing.T) {
	ps := newTestRedisPubSub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := ps.SubscribePattern(ctx, "chat.*")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ev, err := NewEvent("message", "chat.7", map[string]int{"n": i})
		require.NoError(t, err)
		require.NoError(t, ps.Publish(ctx, "chat.7", ev))
	}

	for i := 0; i < 5; i++ {
		ev := receive(t, ch)
		assert.Equal(t, "chat.7", ev.Destination)
		var body map[string]int
		require.NoError(t, ev.UnmarshalPayload(&body))
		assert.Equal(t, i, body["n"])
	}
}

func TestRedisPubSub_SubscribeIgnoresOtherDestinations(t *testing.T) {
	ps := newTestRedisPubSub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := ps.Subscribe(ctx, "presence.general")
	require.NoError(t, err)

	other, _ := NewEvent("presence", "presence.random", map[string]bool{"online": true})
	mine, _ := NewEvent("presence", "presence.general", map[string]bool{"online": false})
	require.NoError(t, ps.Publish(ctx, "presence.random", other))
	require.NoError(t, ps.Publish(ctx, "presence.general", mine))

	ev := receive(t, ch)
	assert.Equal(t, "presence.general", ev.Destination)
}

func TestRedisPubSub_UnsubscribeClosesChannel(t *testing.T) {
	ps := newTestRedisPubSub(t)
	ctx := context.Background()

	ch, err := ps.Subscribe(ctx, "chat.1")
	require.NoError(t, err)
	require.NoError(t, ps.Unsubscribe(ctx, "chat.1"))

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestDestinationToTopicAndKey(t *testing.T) {
	tests := []struct {
		destination string
		topic       string
		key         string
		wantErr     bool
	}{
		{"chat.42", "bus-chat", "42", false},
		{"presence.general", "bus-presence", "general", false},
		{"user.alice.queue", "bus-user", "alice.queue", false},
		{"chat.", "", "", true},
		{"chat", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.destination, func(t *testing.T) {
			topic, key, err := destinationToTopicAndKey("bus-", tt.destination)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.topic, topic)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestPatternToTopic(t *testing.T) {
	topic, err := patternToTopic("bus-", "typing.*")
	require.NoError(t, err)
	assert.Equal(t, "bus-typing", topic)

	topic, err = patternToTopic("bus-", "*")
	require.NoError(t, err)
	assert.Equal(t, "^bus-.*", topic)

	_, err = patternToTopic("bus-", "chat.1")
	assert.Error(t, err)
}

func TestNewPubSub_UnknownDriver(t *testing.T) {
	_, err := NewPubSub(Config{Driver: "nats"})
	assert.Error(t, err)
}
