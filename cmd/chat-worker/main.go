package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-chat/internal/bus"
	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/consumer"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/handler"
	"github.com/weiawesome/wes-io-chat/internal/idgen"
	"github.com/weiawesome/wes-io-chat/internal/repository"
	"github.com/weiawesome/wes-io-chat/internal/retry"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
	"github.com/weiawesome/wes-io-chat/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadWorker()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo := newRepository(ctx, cfg, logger)
	defer closeRepo()

	// Broadcast bus
	ps, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create pubsub")
	}
	defer ps.Close()

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.Retry.MaxRetries
	policy.Backoff = cfg.Retry.Backoff

	dlq, err := consumer.NewKafkaDeadLetterPublisher(cfg.Kafka.Brokers)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create dead-letter publisher")
	}
	defer dlq.Close()

	processor := consumer.NewProcessor(repo, bus.NewPubSubBus(ps))
	cons, err := consumer.NewConsumer(cfg.Kafka, processor.Handle, policy, dlq)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Str("group", cfg.Kafka.GroupID).
		Int("max_retries", policy.MaxRetries).Dur("backoff", policy.Backoff).Msg("kafka consumer created")

	// Dead-letter archive
	var archive storage.Storage
	if cfg.DeadLetter.Archive {
		archive, err = storage.New(ctx, cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Str("type", cfg.Storage.Type).Msg("failed to create dead-letter storage")
		}
	}

	var observer *consumer.Consumer
	if cfg.DeadLetter.Observe {
		obsCfg := cfg.Kafka
		obsCfg.Topic = domain.DeadLetterTopic(cfg.Kafka.Topic)
		obsCfg.GroupID = cfg.DeadLetter.GroupID
		observer, err = consumer.NewConsumer(obsCfg, consumer.NewDeadLetterObserver(archive).Handle, policy, nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create dead-letter observer")
		}
	}

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger, "/health"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if archive != nil {
		tokens, err := jwt.NewManager(cfg.JWT)
		if err != nil {
			logger.Warn().Err(err).Msg("dead-letter admin api disabled")
		} else {
			handler.NewDeadLetterHandler(archive, middleware.NewAuthMiddleware(tokens)).RegisterRoutes(r)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("chat-worker http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return cons.Run(gctx)
	})

	if observer != nil {
		g.Go(func() error {
			return observer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down chat-worker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("chat-worker exited with error")
	}

	// Run has drained in-flight records, so offsets are committed by now.
	cons.Close()
	if observer != nil {
		observer.Close()
	}

	logger.Info().Msg("chat-worker stopped")
}

// newRepository opens the configured message store and prepares its schema.
func newRepository(ctx context.Context, cfg *config.WorkerConfig, logger zerolog.Logger) (repository.MessageRepository, func()) {
	switch cfg.Store {
	case "cassandra":
		session, err := repository.NewCassandraSession(cfg.Cassandra)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to cassandra")
		}
		logger.Info().Str("keyspace", cfg.Cassandra.Keyspace).Strs("hosts", cfg.Cassandra.Hosts).Msg("connected to cassandra")

		ids, err := idgen.NewSnowflake(cfg.Snowflake.MachineID, idgen.DefaultEpoch)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create id generator")
		}

		repo := repository.NewCassandraMessageRepository(session, ids)
		if err := repo.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate cassandra schema")
		}
		return repo, session.Close

	case "gorm", "":
		db, err := database.New(&cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}

		repo := repository.NewGormMessageRepository(db)
		if err := repo.Migrate(); err != nil {
			logger.Fatal().Err(err).Msg("failed to auto-migrate")
		}
		logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

		return repo, func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}

	default:
		logger.Fatal().Str("store", cfg.Store).Msg("unsupported message store")
		return nil, func() {}
	}
}
