package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Config holds per-connection websocket limits.
type Config struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// Client is one websocket connection.
type Client struct {
	ID        string
	Principal domain.Principal
	Conn      *websocket.Conn
	Send      chan []byte

	hub    *Hub
	config Config

	// subs maps subscription id to destination; guarded by hub.mu.
	subs map[string]string
}

// NewClient creates a client. conn may be nil when the client is driven
// directly through Send.
func NewClient(id string, principal domain.Principal, hub *Hub, conn *websocket.Conn, cfg Config) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = 256
	}
	return &Client{
		ID:        id,
		Principal: principal,
		Conn:      conn,
		Send:      make(chan []byte, size),
		hub:       hub,
		config:    cfg,
		subs:      make(map[string]string),
	}
}

// ReadPump reads frames until the connection fails, then calls onClose.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		onClose(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldConnID, c.ID).Msg("websocket read error")
			}
			return
		}

		handler(c, message)
	}
}

// WritePump drains Send to the socket and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendFrame queues a frame. A full buffer drops the frame.
func (c *Client) SendFrame(frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldConnID, c.ID).Msg("failed to encode frame")
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.ID]; !ok {
		return
	}

	select {
	case c.Send <- data:
	default:
		l := log.L()
		l.Warn().Str(log.FieldConnID, c.ID).Msg("send buffer full, frame dropped")
	}
}
