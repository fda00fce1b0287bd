package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

func newTestClient(h *Hub, id string, buffer int) *Client {
	c := NewClient(id, domain.Principal{Username: id}, h, nil, Config{SendBuffer: buffer})
	h.Register(c)
	return c
}

func readFrame(t *testing.T, c *Client) domain.MessageFrame {
	t.Helper()
	select {
	case data := <-c.Send:
		var f domain.MessageFrame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	default:
		t.Fatal("no frame queued")
		return domain.MessageFrame{}
	}
}

func TestHub_DeliverToSubscribers(t *testing.T) {
	h := NewHub()
	alice := newTestClient(h, "alice", 8)
	bob := newTestClient(h, "bob", 8)

	require.NoError(t, h.Subscribe(alice, "sub-1", "chat.General"))
	require.NoError(t, h.Subscribe(bob, "sub-9", "chat.Dev"))

	n := h.Deliver("chat.General", json.RawMessage(`{"id":1,"content":"hi"}`))
	assert.Equal(t, 1, n)

	f := readFrame(t, alice)
	assert.Equal(t, domain.FrameMessage, f.Type)
	assert.Equal(t, "sub-1", f.Subscription)
	assert.Equal(t, "chat.General", f.Destination)
	assert.JSONEq(t, `{"id":1,"content":"hi"}`, string(f.Body))

	assert.Len(t, bob.Send, 0)
}

func TestHub_NoSubscribersNoBuffering(t *testing.T) {
	h := NewHub()
	assert.Equal(t, 0, h.Deliver("chat.Empty", json.RawMessage(`{}`)))

	late := newTestClient(h, "late", 8)
	require.NoError(t, h.Subscribe(late, "s", "chat.Empty"))
	assert.Len(t, late.Send, 0)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	c := newTestClient(h, "alice", 8)
	require.NoError(t, h.Subscribe(c, "s1", "typing.General"))

	assert.True(t, h.Unsubscribe(c, "s1"))
	assert.False(t, h.Unsubscribe(c, "s1"))
	assert.Equal(t, 0, h.SubscriberCount("typing.General"))
	assert.Equal(t, 0, h.Deliver("typing.General", json.RawMessage(`{}`)))
}

func TestHub_ResubscribeMovesSubscription(t *testing.T) {
	h := NewHub()
	c := newTestClient(h, "alice", 8)
	require.NoError(t, h.Subscribe(c, "s1", "chat.A"))
	require.NoError(t, h.Subscribe(c, "s1", "chat.B"))

	assert.Equal(t, 0, h.SubscriberCount("chat.A"))
	assert.Equal(t, 1, h.SubscriberCount("chat.B"))
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := NewHub()
	slow := newTestClient(h, "slow", 1)
	fast := newTestClient(h, "fast", 8)
	require.NoError(t, h.Subscribe(slow, "s", "chat.General"))
	require.NoError(t, h.Subscribe(fast, "s", "chat.General"))

	h.Deliver("chat.General", json.RawMessage(`{"n":1}`))
	h.Deliver("chat.General", json.RawMessage(`{"n":2}`))

	assert.Equal(t, 1, h.ClientCount())
	assert.Len(t, fast.Send, 2)

	<-slow.Send
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestHub_UnregisterIdempotent(t *testing.T) {
	h := NewHub()
	c := newTestClient(h, "alice", 8)
	require.NoError(t, h.Subscribe(c, "s", "presence.General"))

	h.Unregister(c)
	h.Unregister(c)

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.SubscriberCount("presence.General"))
	assert.ErrorIs(t, h.Subscribe(c, "s", "chat.x"), ErrClientNotRegistered)

	c.SendFrame(domain.NewReceiptFrame("x"))
}
