package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-chat/internal/consumer"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/response"
	"github.com/weiawesome/wes-io-chat/pkg/storage"
)

// PresenceChecker answers whether a user has a live connection.
type PresenceChecker interface {
	IsOnline(ctx context.Context, username string) (bool, error)
}

// PresenceHandler serves presence queries on the gateway.
type PresenceHandler struct {
	presence PresenceChecker
}

func NewPresenceHandler(presence PresenceChecker) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/presence/:username", h.GetPresence)
}

// GetPresence reports {username, online}.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	username := c.Param("username")
	online, err := h.presence.IsOnline(ctx, username)
	if err != nil {
		l.Error().Err(err).Str(log.FieldUsername, username).Msg("failed to read presence")
		response.ServiceUnavailable(c, "presence store unavailable")
		return
	}

	response.Success(c, domain.PresenceUpdate{Username: username, Online: online})
}

// DeadLetterHandler exposes archived dead letters on the worker.
type DeadLetterHandler struct {
	store          storage.Storage
	authMiddleware *middleware.AuthMiddleware
}

func NewDeadLetterHandler(store storage.Storage, authMiddleware *middleware.AuthMiddleware) *DeadLetterHandler {
	return &DeadLetterHandler{store: store, authMiddleware: authMiddleware}
}

func (h *DeadLetterHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/dead-letters", h.authMiddleware.RequireAuth())
	{
		api.GET("", h.ListDeadLetters)
		api.GET("/:topic/:date/:file", h.GetDeadLetter)
	}
}

// ListDeadLetters lists archived records, optionally narrowed by topic and
// date (yyyy-mm-dd).
func (h *DeadLetterHandler) ListDeadLetters(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	prefix := consumer.ArchivePrefix + "/"
	if topic := c.Query("topic"); topic != "" {
		prefix = path.Join(consumer.ArchivePrefix, topic) + "/"
		if date := c.Query("date"); date != "" {
			prefix = path.Join(consumer.ArchivePrefix, topic, date) + "/"
		}
	}

	if !strings.HasPrefix(prefix, consumer.ArchivePrefix+"/") {
		response.BadRequest(c, "invalid topic or date")
		return
	}

	files, err := h.store.List(ctx, prefix)
	if err != nil {
		l.Error().Err(err).Str("prefix", prefix).Msg("failed to list dead letters")
		response.InternalError(c, "failed to list dead letters")
		return
	}

	response.Success(c, files)
}

// GetDeadLetter returns one archived record.
func (h *DeadLetterHandler) GetDeadLetter(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	key := path.Join(consumer.ArchivePrefix, c.Param("topic"), c.Param("date"), c.Param("file"))
	if !strings.HasPrefix(key, consumer.ArchivePrefix+"/") || strings.Count(key, "/") != 3 {
		response.BadRequest(c, "invalid dead letter key")
		return
	}

	rc, err := h.store.Read(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.NotFound(c, "dead letter not found")
			return
		}
		l.Error().Err(err).Str("key", key).Msg("failed to read dead letter")
		response.InternalError(c, "failed to read dead letter")
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		l.Error().Err(err).Str("key", key).Msg("failed to read dead letter")
		response.InternalError(c, "failed to read dead letter")
		return
	}

	var dl domain.DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		l.Error().Err(err).Str("key", key).Msg("corrupt dead letter archive")
		response.InternalError(c, "corrupt dead letter archive")
		return
	}

	response.Success(c, dl)
}
