package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis key patterns:
// user:{username}:online               STRING "true"  - PresenceKey, present iff sessions is non-empty
// presence:user:{username}:sessions    SET<conn_id>   - live connections of the user

func onlineKey(username string) string {
	return fmt.Sprintf("user:%s:online", username)
}

func sessionsKey(username string) string {
	return fmt.Sprintf("presence:user:%s:sessions", username)
}

// Both scripts return {changed, remaining sessions}. Running them as scripts
// makes Redis the single writer for both keys of a user.
var connectScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], 'true')
return {added, redis.call('SCARD', KEYS[1])}
`)

var disconnectScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
local n = redis.call('SCARD', KEYS[1])
if n == 0 then
  redis.call('DEL', KEYS[2])
end
return {removed, n}
`)

// Transition is the effect of a connect or disconnect on a user's sessions.
type Transition struct {
	// Changed is false when the connection was already registered
	// (connect) or was not registered (disconnect).
	Changed  bool
	Sessions int
}

// Store records live connections per user.
type Store interface {
	Connect(ctx context.Context, username, connID string) (Transition, error)
	Disconnect(ctx context.Context, username, connID string) (Transition, error)
	IsOnline(ctx context.Context, username string) (bool, error)
	Close() error
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Connect adds connID to the user's session set and sets the PresenceKey.
func (s *RedisStore) Connect(ctx context.Context, username, connID string) (Transition, error) {
	return s.run(ctx, connectScript, username, connID)
}

// Disconnect removes connID and deletes the PresenceKey once no sessions remain.
func (s *RedisStore) Disconnect(ctx context.Context, username, connID string) (Transition, error) {
	return s.run(ctx, disconnectScript, username, connID)
}

func (s *RedisStore) run(ctx context.Context, script *redis.Script, username, connID string) (Transition, error) {
	res, err := script.Run(ctx, s.client, []string{sessionsKey(username), onlineKey(username)}, connID).Int64Slice()
	if err != nil {
		return Transition{}, fmt.Errorf("presence script: %w", err)
	}
	if len(res) != 2 {
		return Transition{}, fmt.Errorf("presence script: unexpected reply %v", res)
	}
	return Transition{Changed: res[0] == 1, Sessions: int(res[1])}, nil
}

// IsOnline reports whether the PresenceKey exists.
func (s *RedisStore) IsOnline(ctx context.Context, username string) (bool, error) {
	_, err := s.client.Get(ctx, onlineKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
