package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/gateway"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// PrincipalResolver identifies the caller of a handshake request.
type PrincipalResolver interface {
	PrincipalOf(r *http.Request) domain.Principal
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades realtime connections and wires them to the gateway.
type WSHandler struct {
	hub      *hub.Hub
	service  *gateway.Service
	resolver PrincipalResolver
	wsCfg    hub.Config
}

func NewWSHandler(h *hub.Hub, svc *gateway.Service, resolver PrincipalResolver, wsCfg hub.Config) *WSHandler {
	return &WSHandler{
		hub:      h,
		service:  svc,
		resolver: resolver,
		wsCfg:    wsCfg,
	}
}

// HandleWebSocket resolves the principal before upgrading; a missing or
// invalid token yields an anonymous connection.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	principal := h.resolver.PrincipalOf(c.Request)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	// The request context ends when this handler returns.
	ctx := log.WithConn(context.WithoutCancel(c.Request.Context()), connID, principal.Name())

	client := hub.NewClient(connID, principal, h.hub, conn, h.wsCfg)
	if err := h.service.HandleConnect(ctx, client); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("connection rejected")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connect denied"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(
		func(cl *hub.Client, message []byte) { h.service.HandleFrame(ctx, cl, message) },
		func(cl *hub.Client) { h.service.HandleDisconnect(ctx, cl) },
	)
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}
