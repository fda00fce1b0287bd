// Package hub tracks the websocket clients of one gateway process and their
// destination subscriptions, and fans broadcast payloads out to them.
package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

var ErrClientNotRegistered = errors.New("client not registered")

type Hub struct {
	clients map[string]*Client                     // clientID -> client
	subs    map[string]map[*Client]map[string]bool // destination -> client -> subscription ids
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		subs:    make(map[string]map[*Client]map[string]bool),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Msg("client registered")
}

// Unregister drops every subscription of the client and closes its send
// channel. It is safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(client)
}

func (h *Hub) unregisterLocked(client *Client) {
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for _, dest := range client.subs {
		h.removeSubLocked(client, dest)
	}
	client.subs = make(map[string]string)
	delete(h.clients, client.ID)
	close(client.Send)

	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Msg("client unregistered")
}

// Subscribe binds subID on client to destination. Reusing a subscription id
// moves it to the new destination.
func (h *Hub) Subscribe(client *Client, subID, destination string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return ErrClientNotRegistered
	}

	if prev, ok := client.subs[subID]; ok {
		h.removeSubIDLocked(client, subID, prev)
	}

	byClient, ok := h.subs[destination]
	if !ok {
		byClient = make(map[*Client]map[string]bool)
		h.subs[destination] = byClient
	}
	ids, ok := byClient[client]
	if !ok {
		ids = make(map[string]bool)
		byClient[client] = ids
	}
	ids[subID] = true
	client.subs[subID] = destination

	return nil
}

// Unsubscribe removes subID from client and reports whether it existed.
func (h *Hub) Unsubscribe(client *Client, subID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	dest, ok := client.subs[subID]
	if !ok {
		return false
	}
	h.removeSubIDLocked(client, subID, dest)
	delete(client.subs, subID)
	return true
}

func (h *Hub) removeSubIDLocked(client *Client, subID, dest string) {
	byClient, ok := h.subs[dest]
	if !ok {
		return
	}
	if ids, ok := byClient[client]; ok {
		delete(ids, subID)
		if len(ids) == 0 {
			delete(byClient, client)
		}
	}
	if len(byClient) == 0 {
		delete(h.subs, dest)
	}
}

func (h *Hub) removeSubLocked(client *Client, dest string) {
	if byClient, ok := h.subs[dest]; ok {
		delete(byClient, client)
		if len(byClient) == 0 {
			delete(h.subs, dest)
		}
	}
}

// Deliver queues payload to every live subscription of destination without
// blocking. Clients whose buffers are full are disconnected. It returns the
// number of frames queued.
func (h *Hub) Deliver(destination string, payload json.RawMessage) int {
	var slow []*Client
	delivered := 0

	h.mu.RLock()
	for client, ids := range h.subs[destination] {
		for subID := range ids {
			data, err := json.Marshal(domain.MessageFrame{
				Type:         domain.FrameMessage,
				Subscription: subID,
				Destination:  destination,
				Body:         payload,
			})
			if err != nil {
				l := log.L()
				l.Error().Err(err).Str(log.FieldDestination, destination).Msg("failed to encode message frame")
				h.mu.RUnlock()
				return delivered
			}

			select {
			case client.Send <- data:
				delivered++
			default:
				slow = append(slow, client)
			}
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			l := log.L()
			l.Warn().Str(log.FieldConnID, client.ID).Msg("slow client dropped")
			h.unregisterLocked(client)
		}
		h.mu.Unlock()
	}

	return delivered
}

// SubscriberCount returns the number of subscriptions on destination.
func (h *Hub) SubscriberCount(destination string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, ids := range h.subs[destination] {
		n += len(ids)
	}
	return n
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a snapshot of registered clients.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}
