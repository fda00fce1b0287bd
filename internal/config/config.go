package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-chat/internal/consumer"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/producer"
	"github.com/weiawesome/wes-io-chat/internal/repository"
	pkgconfig "github.com/weiawesome/wes-io-chat/pkg/config"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
	"github.com/weiawesome/wes-io-chat/pkg/storage"
)

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// GatewayConfig configures the realtime entry point.
type GatewayConfig struct {
	Server    ServerConfig
	WebSocket hub.Config `mapstructure:"websocket"`
	JWT       jwt.Config `mapstructure:"jwt"`
	Kafka     producer.Config
	PubSub    pubsub.Config `mapstructure:"pubsub"`
	Redis     RedisConfig
	Database  database.Config
	Log       log.Config
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

type DeadLetterConfig struct {
	// Observe runs a second consumer group that logs and archives the
	// dead-letter topic.
	Observe bool
	GroupID string `mapstructure:"group_id"`
	Archive bool
}

type SnowflakeConfig struct {
	MachineID int64 `mapstructure:"machine_id"`
}

// WorkerConfig configures the persistence worker.
type WorkerConfig struct {
	Server     ServerConfig
	Kafka      consumer.Config
	Retry      RetryConfig
	DeadLetter DeadLetterConfig `mapstructure:"dead_letter"`
	// Store selects the message repository: "gorm" or "cassandra".
	Store     string
	Database  database.Config
	Cassandra repository.CassandraConfig
	Snowflake SnowflakeConfig
	PubSub    pubsub.Config `mapstructure:"pubsub"`
	Storage   storage.Config
	JWT       jwt.Config `mapstructure:"jwt"`
	Log       log.Config
}

// LoadGateway reads gateway.yaml and the environment.
func LoadGateway() (*GatewayConfig, error) {
	v, err := pkgconfig.Load(pkgconfig.Path("./config"), "gateway")
	if err != nil {
		return nil, err
	}
	return gatewayFrom(v)
}

// LoadWorker reads worker.yaml and the environment.
func LoadWorker() (*WorkerConfig, error) {
	v, err := pkgconfig.Load(pkgconfig.Path("./config"), "worker")
	if err != nil {
		return nil, err
	}
	return workerFrom(v)
}

func gatewayFrom(v *viper.Viper) (*GatewayConfig, error) {
	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.public_key_pem", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-messages")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	setPubSubDefaults(v)
	setDatabaseDefaults(v)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chat-gateway")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("jwt.public_key_pem", "JWT_PUBLIC_KEY_PEM")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	bindPubSubEnv(v)
	bindDatabaseEnv(v)
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	parsePubSubDurations(v, &cfg.PubSub)

	return &cfg, nil
}

func workerFrom(v *viper.Viper) (*WorkerConfig, error) {
	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-messages")
	v.SetDefault("kafka.group_id", "chat-worker")
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.max_poll_interval_ms", 300000)
	v.SetDefault("kafka.session_timeout_ms", 45000)
	v.SetDefault("kafka.heartbeat_interval_ms", 3000)
	v.SetDefault("kafka.fetch_min_bytes", 1)
	v.SetDefault("kafka.fetch_max_wait_ms", 500)
	v.SetDefault("kafka.queue_size", 64)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff", "1s")
	v.SetDefault("dead_letter.observe", true)
	v.SetDefault("dead_letter.group_id", "chat-dlt-observer")
	v.SetDefault("dead_letter.archive", false)
	v.SetDefault("store", "gorm")
	setDatabaseDefaults(v)
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "wes_chat")
	v.SetDefault("cassandra.username", "")
	v.SetDefault("cassandra.password", "")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.num_conns", 2)
	v.SetDefault("cassandra.max_prepared_stmt", 1000)
	v.SetDefault("snowflake.machine_id", 1)
	setPubSubDefaults(v)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.base_path", "./data")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.use_path_style", false)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.public_key_pem", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chat-worker")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("store", "MESSAGE_STORE")
	bindDatabaseEnv(v)
	v.BindEnv("cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("cassandra.keyspace", "CASSANDRA_KEYSPACE")
	v.BindEnv("cassandra.username", "CASSANDRA_USERNAME")
	v.BindEnv("cassandra.password", "CASSANDRA_PASSWORD")
	v.BindEnv("snowflake.machine_id", "MACHINE_ID")
	bindPubSubEnv(v)
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("jwt.public_key_pem", "JWT_PUBLIC_KEY_PEM")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Retry.Backoff = parseDuration(v, "retry.backoff", time.Second)
	cfg.Cassandra.ConnectTimeout = parseDuration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = parseDuration(v, "cassandra.timeout", 5*time.Second)
	parsePubSubDurations(v, &cfg.PubSub)

	return &cfg, nil
}

func setPubSubDefaults(v *viper.Viper) {
	d := pubsub.DefaultConfig()
	v.SetDefault("pubsub.driver", d.Driver)
	v.SetDefault("pubsub.redis.address", d.Redis.Address)
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("pubsub.redis.read_timeout", d.Redis.ReadTimeout.String())
	v.SetDefault("pubsub.redis.write_timeout", d.Redis.WriteTimeout.String())
	v.SetDefault("pubsub.redis.channel_prefix", d.Redis.ChannelPrefix)
	v.SetDefault("pubsub.kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("pubsub.kafka.group_id", d.Kafka.GroupID)
	v.SetDefault("pubsub.kafka.partitions", d.Kafka.Partitions)
	v.SetDefault("pubsub.kafka.topic_prefix", d.Kafka.TopicPrefix)
}

func bindPubSubEnv(v *viper.Viper) {
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "PUBSUB_REDIS_ADDRESS", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "PUBSUB_REDIS_PASSWORD", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "PUBSUB_KAFKA_BROKERS", "KAFKA_BROKERS")
}

func parsePubSubDurations(v *viper.Viper, cfg *pubsub.Config) {
	cfg.Redis.ReadTimeout = parseDuration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.Redis.WriteTimeout = parseDuration(v, "pubsub.redis.write_timeout", 3*time.Second)
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "wes_chat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "chat.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "warn")
}

func bindDatabaseEnv(v *viper.Viper) {
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
