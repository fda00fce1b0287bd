package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_ConnectDisconnect(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	tr, err := s.Connect(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, Transition{Changed: true, Sessions: 1}, tr)

	v, err := mr.Get("user:alice:online")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
	assert.Zero(t, mr.TTL("user:alice:online"))

	online, err := s.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	tr, err = s.Disconnect(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, Transition{Changed: true, Sessions: 0}, tr)
	assert.False(t, mr.Exists("user:alice:online"))
	assert.False(t, mr.Exists("presence:user:alice:sessions"))
}

func TestRedisStore_StaleDisconnectKeepsNewerSession(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Connect(ctx, "alice", "old-tab")
	require.NoError(t, err)
	tr, err := s.Connect(ctx, "alice", "new-tab")
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Sessions)

	tr, err = s.Disconnect(ctx, "alice", "old-tab")
	require.NoError(t, err)
	assert.Equal(t, Transition{Changed: true, Sessions: 1}, tr)
	assert.True(t, mr.Exists("user:alice:online"))
}

func TestRedisStore_IdempotentTransitions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Connect(ctx, "alice", "c1")
	require.NoError(t, err)
	tr, err := s.Connect(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, Transition{Changed: false, Sessions: 1}, tr)

	tr, err = s.Disconnect(ctx, "alice", "unknown")
	require.NoError(t, err)
	assert.Equal(t, Transition{Changed: false, Sessions: 1}, tr)
}

func TestRedisStore_IsOnlineUnknownUser(t *testing.T) {
	s, _ := newTestStore(t)

	online, err := s.IsOnline(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestRedisStore_ErrorsWhenRedisDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Connect(context.Background(), "alice", "c1")
	assert.Error(t, err)
}
