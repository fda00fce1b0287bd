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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-chat/internal/auth"
	"github.com/weiawesome/wes-io-chat/internal/authz"
	"github.com/weiawesome/wes-io-chat/internal/bus"
	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/gateway"
	"github.com/weiawesome/wes-io-chat/internal/handler"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/membership"
	"github.com/weiawesome/wes-io-chat/internal/presence"
	"github.com/weiawesome/wes-io-chat/internal/producer"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.LoadGateway()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	tokens, err := jwt.NewManager(cfg.JWT)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token manager")
	}

	// Membership is read from the shared relational store
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	members := membership.NewGormMembership(db)

	// Presence store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
	}
	pingCancel()
	presenceStore := presence.NewRedisStore(redisClient)
	defer presenceStore.Close()

	// Broadcast bus
	ps, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create pubsub")
	}
	defer ps.Close()
	broadcast := bus.NewPubSubBus(ps)

	// Durable queue producer
	prod, err := producer.NewKafkaProducer(cfg.Kafka)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer prod.Close()

	h := hub.NewHub()
	relay := bus.NewRelay(ps, h)
	tracker := presence.NewTracker(presenceStore, members, broadcast)
	svc := gateway.NewService(h, authz.NewAuthorizer(members), tracker, prod, broadcast)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger, "/health"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.ClientCount()})
	})

	handler.NewWSHandler(h, svc, auth.NewResolver(tokens), cfg.WebSocket).RegisterRoutes(r)
	handler.NewPresenceHandler(tracker).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("pubsub", cfg.PubSub.Driver).Str("topic", cfg.Kafka.Topic).Msg("chat-gateway starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return relay.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down chat-gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}

		// Hijacked websocket connections are not closed by Shutdown. Closing
		// them runs the disconnect path so presence is released.
		for _, c := range h.Clients() {
			c.Conn.Close()
		}
		for h.ClientCount() > 0 && shutdownCtx.Err() == nil {
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("chat-gateway exited with error")
	}

	logger.Info().Msg("chat-gateway stopped")
}
