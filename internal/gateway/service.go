// Package gateway implements the per-connection operations of the realtime
// entry point independently of the socket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/authz"
	"github.com/weiawesome/wes-io-chat/internal/bus"
	"github.com/weiawesome/wes-io-chat/internal/destination"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/producer"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// ErrConnectDenied is returned by HandleConnect when the principal may not
// open a connection.
var ErrConnectDenied = errors.New("connect denied")

// Authorizer decides whether a principal may perform an operation.
type Authorizer interface {
	Authorize(ctx context.Context, p domain.Principal, op authz.Operation, dest string) bool
}

// Presence is notified of connection lifecycle events.
type Presence interface {
	HandleConnect(ctx context.Context, p domain.Principal, connID string)
	HandleDisconnect(ctx context.Context, p domain.Principal, connID string)
}

// Service handles client frames for connections registered on a hub.
type Service struct {
	hub      *hub.Hub
	authz    Authorizer
	presence Presence
	producer producer.Publisher
	bus      bus.Bus
	now      func() time.Time
}

// NewService creates a gateway service.
func NewService(h *hub.Hub, az Authorizer, pr Presence, pub producer.Publisher, b bus.Bus) *Service {
	return &Service{
		hub:      h,
		authz:    az,
		presence: pr,
		producer: pub,
		bus:      b,
		now:      time.Now,
	}
}

// HandleConnect registers the client, records presence and greets it.
func (s *Service) HandleConnect(ctx context.Context, c *hub.Client) error {
	if !s.authz.Authorize(ctx, c.Principal, authz.Connect, "") {
		return ErrConnectDenied
	}

	s.hub.Register(c)
	s.presence.HandleConnect(ctx, c.Principal, c.ID)

	audit.Log(ctx, audit.ActionConnect, c.Principal.Name(), "client connected")

	c.SendFrame(&domain.ConnectedFrame{Type: domain.FrameConnected, Username: c.Principal.Name()})
	return nil
}

// HandleDisconnect releases presence and every subscription of the client.
func (s *Service) HandleDisconnect(ctx context.Context, c *hub.Client) {
	s.presence.HandleDisconnect(ctx, c.Principal, c.ID)
	s.hub.Unregister(c)

	audit.Log(ctx, audit.ActionDisconnect, c.Principal.Name(), "client disconnected")
}

// HandleFrame decodes one inbound frame and dispatches it.
func (s *Service) HandleFrame(ctx context.Context, c *hub.Client, data []byte) {
	var frame domain.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "Invalid frame format", ""))
		return
	}

	switch frame.Type {
	case domain.FrameSubscribe:
		s.HandleSubscribe(ctx, c, &frame)
	case domain.FrameUnsubscribe:
		s.HandleUnsubscribe(ctx, c, &frame)
	case domain.FrameSend:
		s.HandleSend(ctx, c, &frame)
	case domain.FramePing:
		if s.authz.Authorize(ctx, c.Principal, authz.Heartbeat, "") {
			c.SendFrame(map[string]string{"type": domain.FramePong})
		}
	default:
		c.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "Unknown frame type", frame.ID))
	}
}

// HandleSubscribe binds frame.ID to frame.Destination when authorized.
func (s *Service) HandleSubscribe(ctx context.Context, c *hub.Client, frame *domain.InboundFrame) {
	if frame.ID == "" || frame.Destination == "" {
		c.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "Subscription id and destination are required", frame.ID))
		return
	}

	if !s.authz.Authorize(ctx, c.Principal, authz.Subscribe, frame.Destination) {
		c.SendFrame(domain.NewErrorFrame(domain.ErrCodeSubscriptionDeny, "Subscription denied", frame.ID))
		return
	}

	if err := s.hub.Subscribe(c, frame.ID, frame.Destination); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldDestination, frame.Destination).Msg("subscribe on closed connection")
		return
	}

	audit.LogWithDetail(ctx, audit.ActionSubscribe, c.Principal.Name(), frame.Destination, "subscribed")
	c.SendFrame(domain.NewReceiptFrame(frame.ID))
}

// HandleUnsubscribe drops the subscription frame.ID. Unknown ids are
// acknowledged as well.
func (s *Service) HandleUnsubscribe(ctx context.Context, c *hub.Client, frame *domain.InboundFrame) {
	if frame.ID == "" {
		c.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "Subscription id is required", ""))
		return
	}
	if !s.authz.Authorize(ctx, c.Principal, authz.Unsubscribe, frame.Destination) {
		return
	}

	s.hub.Unsubscribe(c, frame.ID)
	c.SendFrame(domain.NewReceiptFrame(frame.ID))
}

// HandleSend routes an application frame. Chat messages go to the durable
// queue; typing events go straight to the bus.
func (s *Service) HandleSend(ctx context.Context, c *hub.Client, frame *domain.InboundFrame) {
	if !s.authz.Authorize(ctx, c.Principal, authz.Send, frame.Destination) {
		c.SendFrame(domain.NewErrorFrame(domain.ErrCodeUnauthorized, "Not authenticated", frame.ID))
		return
	}

	var err error
	switch frame.Destination {
	case destination.SendMessage:
		err = s.sendMessage(ctx, c, frame.Body)
	case destination.SendTyping:
		err = s.sendTyping(ctx, c, frame.Body)
	default:
		c.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "Unknown destination", frame.ID))
		return
	}

	switch {
	case err == nil:
		if frame.ID != "" {
			c.SendFrame(domain.NewReceiptFrame(frame.ID))
		}
	case errors.Is(err, domain.ErrInvalidMessage):
		c.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, err.Error(), frame.ID))
	default:
		c.SendFrame(domain.NewErrorFrame(domain.ErrCodeInternalError, "Failed to send message", frame.ID))
	}
}

func (s *Service) sendMessage(ctx context.Context, c *hub.Client, body json.RawMessage) error {
	l := log.Ctx(ctx)

	var msg domain.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return errors.Join(domain.ErrInvalidMessage, err)
	}

	msg.ID = 0
	msg.Sender = c.Principal.Username
	msg.Timestamp = s.now().UTC()
	if err := msg.Validate(); err != nil {
		return err
	}

	if err := s.producer.Publish(ctx, &msg); err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, msg.RoomID).Msg("failed to produce chat message")
		return err
	}

	audit.LogWithDetail(ctx, audit.ActionSendMessage, msg.Sender, msg.RoomID, "message sent")
	return nil
}

func (s *Service) sendTyping(ctx context.Context, c *hub.Client, body json.RawMessage) error {
	l := log.Ctx(ctx)

	var ev domain.TypingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errors.Join(domain.ErrInvalidMessage, err)
	}

	ev.Username = c.Principal.Username
	if ev.RoomID == "" {
		l.Warn().Msg("typing event without roomId ignored")
		return nil
	}

	if err := s.bus.Send(ctx, destination.TypingOf(ev.RoomID), &ev); err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, ev.RoomID).Msg("failed to broadcast typing event")
		return err
	}
	return nil
}
