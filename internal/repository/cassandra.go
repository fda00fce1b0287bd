package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/idgen"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// CassandraConfig holds Cassandra connection settings.
type CassandraConfig struct {
	Hosts           []string      `mapstructure:"hosts"`
	Keyspace        string        `mapstructure:"keyspace"`
	Consistency     string        `mapstructure:"consistency"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	Timeout         time.Duration `mapstructure:"timeout"`
	NumConns        int           `mapstructure:"num_conns"`
	MaxPreparedStmt int           `mapstructure:"max_prepared_stmt"`
}

// NewCassandraSession connects to the cluster.
func NewCassandraSession(cfg CassandraConfig) (*gocql.Session, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}
	if cfg.MaxPreparedStmt > 0 {
		cluster.MaxPreparedStmts = cfg.MaxPreparedStmt
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	return session, nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}

// CassandraSchema creates the tables used by CassandraMessageRepository.
var CassandraSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages_by_room (
		room_id text,
		message_id bigint,
		sender text,
		content text,
		created_at timestamp,
		PRIMARY KEY (room_id, message_id)
	) WITH CLUSTERING ORDER BY (message_id DESC)`,
	`CREATE TABLE IF NOT EXISTS message_delivery_keys (
		delivery_key text PRIMARY KEY,
		message_id bigint
	)`,
}

// CassandraMessageRepository stores messages partitioned by room. Ids come
// from a snowflake generator and are pinned to a delivery key with a
// lightweight transaction, so a redelivered record reuses its first id and
// the row write becomes an idempotent upsert.
type CassandraMessageRepository struct {
	session *gocql.Session
	ids     idgen.Generator
}

// NewCassandraMessageRepository creates a new Cassandra-backed repository.
func NewCassandraMessageRepository(session *gocql.Session, ids idgen.Generator) *CassandraMessageRepository {
	return &CassandraMessageRepository{session: session, ids: ids}
}

// Migrate applies CassandraSchema.
func (r *CassandraMessageRepository) Migrate(ctx context.Context) error {
	for _, stmt := range CassandraSchema {
		if err := r.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Save persists msg, reusing the id already bound to key if any.
func (r *CassandraMessageRepository) Save(ctx context.Context, msg *domain.ChatMessage, key DeliveryKey) (*domain.ChatMessage, error) {
	id, err := r.ids.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	if key != "" {
		existing := map[string]interface{}{}
		applied, err := r.session.Query(
			`INSERT INTO message_delivery_keys (delivery_key, message_id) VALUES (?, ?) IF NOT EXISTS`,
			string(key), id,
		).WithContext(ctx).MapScanCAS(existing)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve delivery key: %w", err)
		}
		if !applied {
			if prev, ok := existing["message_id"].(int64); ok {
				l := log.Ctx(ctx)
				l.Info().
					Str("delivery_key", string(key)).
					Int64(log.FieldMessageID, prev).
					Msg("redelivered record reuses persisted id")
				id = prev
			}
		}
	}

	saved := *msg
	saved.ID = id
	if saved.Timestamp.IsZero() {
		saved.Timestamp = time.Now().UTC()
	}

	err = r.session.Query(
		`INSERT INTO messages_by_room (room_id, message_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		saved.RoomID, saved.ID, saved.Sender, saved.Content, saved.Timestamp,
	).WithContext(ctx).Exec()
	if err != nil {
		return nil, classifyWriteError(err)
	}

	return &saved, nil
}
