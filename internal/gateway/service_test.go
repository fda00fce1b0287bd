package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/internal/authz"
	"github.com/weiawesome/wes-io-chat/internal/bus"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/hub"
)

type fakeAuthz struct {
	deny map[authz.Operation]bool
}

func (f *fakeAuthz) Authorize(_ context.Context, p domain.Principal, op authz.Operation, _ string) bool {
	if f.deny[op] {
		return false
	}
	if op == authz.Send || op == authz.Subscribe {
		return !p.IsAnonymous()
	}
	return true
}

type fakePresence struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePresence) HandleConnect(_ context.Context, p domain.Principal, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "connect:"+p.Name()+":"+connID)
}

func (f *fakePresence) HandleDisconnect(_ context.Context, p domain.Principal, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "disconnect:"+p.Name()+":"+connID)
}

type fakeProducer struct {
	msgs []*domain.ChatMessage
	err  error
}

func (f *fakeProducer) Publish(_ context.Context, msg *domain.ChatMessage) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type fixture struct {
	svc      *Service
	hub      *hub.Hub
	authz    *fakeAuthz
	presence *fakePresence
	producer *fakeProducer
}

func newFixture() *fixture {
	h := hub.NewHub()
	f := &fixture{
		hub:      h,
		authz:    &fakeAuthz{deny: map[authz.Operation]bool{}},
		presence: &fakePresence{},
		producer: &fakeProducer{},
	}
	f.svc = NewService(h, f.authz, f.presence, f.producer, bus.NewLocalBus(h))
	f.svc.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) connect(t *testing.T, id string, p domain.Principal) *hub.Client {
	t.Helper()
	c := hub.NewClient(id, p, f.hub, nil, hub.Config{SendBuffer: 16})
	require.NoError(t, f.svc.HandleConnect(context.Background(), c))
	assert.Equal(t, domain.FrameConnected, nextFrame(t, c)["type"])
	return c
}

func nextFrame(t *testing.T, c *hub.Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.Send:
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func noFrame(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame: %s", data)
	default:
	}
}

func send(t *testing.T, f *fixture, c *hub.Client, frame string) {
	t.Helper()
	f.svc.HandleFrame(context.Background(), c, []byte(frame))
}

var alice = domain.Principal{UserID: "1", Username: "alice"}

func TestHandleConnect_RegistersAndTracksPresence(t *testing.T) {
	f := newFixture()
	c := hub.NewClient("c1", alice, f.hub, nil, hub.Config{SendBuffer: 4})

	require.NoError(t, f.svc.HandleConnect(context.Background(), c))

	frame := nextFrame(t, c)
	assert.Equal(t, "connected", frame["type"])
	assert.Equal(t, "alice", frame["username"])
	assert.Equal(t, 1, f.hub.ClientCount())
	assert.Equal(t, []string{"connect:alice:c1"}, f.presence.events)
}

func TestHandleConnect_Denied(t *testing.T) {
	f := newFixture()
	f.authz.deny[authz.Connect] = true
	c := hub.NewClient("c1", alice, f.hub, nil, hub.Config{})

	assert.ErrorIs(t, f.svc.HandleConnect(context.Background(), c), ErrConnectDenied)
	assert.Zero(t, f.hub.ClientCount())
	assert.Empty(t, f.presence.events)
}

func TestHandleDisconnect_ReleasesPresenceAndSubscriptions(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", alice)
	send(t, f, c, `{"type":"subscribe","id":"s1","destination":"chat.42"}`)
	nextFrame(t, c)

	f.svc.HandleDisconnect(context.Background(), c)

	assert.Equal(t, []string{"connect:alice:c1", "disconnect:alice:c1"}, f.presence.events)
	assert.Zero(t, f.hub.SubscriberCount("chat.42"))
	assert.Zero(t, f.hub.ClientCount())
}

func TestHandleSubscribe_ReceiptThenDelivery(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", alice)

	send(t, f, c, `{"type":"subscribe","id":"s1","destination":"chat.42"}`)
	receipt := nextFrame(t, c)
	assert.Equal(t, "receipt", receipt["type"])
	assert.Equal(t, "s1", receipt["id"])

	f.hub.Deliver("chat.42", json.RawMessage(`{"id":7,"content":"hi"}`))
	msg := nextFrame(t, c)
	assert.Equal(t, "message", msg["type"])
	assert.Equal(t, "s1", msg["subscription"])
	assert.Equal(t, "chat.42", msg["destination"])
}

func TestHandleSubscribe_DeniedIsGeneric(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", domain.Anonymous)

	send(t, f, c, `{"type":"subscribe","id":"s1","destination":"chat.secret-room"}`)

	frame := nextFrame(t, c)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, domain.ErrCodeSubscriptionDeny, frame["code"])
	assert.NotContains(t, frame["message"], "secret-room")
	assert.Zero(t, f.hub.SubscriberCount("chat.secret-room"))
}

func TestHandleSubscribe_RequiresIDAndDestination(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", alice)

	send(t, f, c, `{"type":"subscribe","destination":"chat.42"}`)
	assert.Equal(t, domain.ErrCodeBadRequest, nextFrame(t, c)["code"])
}

func TestHandleUnsubscribe_StopsDelivery(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", alice)
	send(t, f, c, `{"type":"subscribe","id":"s1","destination":"chat.42"}`)
	nextFrame(t, c)

	send(t, f, c, `{"type":"unsubscribe","id":"s1"}`)
	assert.Equal(t, "receipt", nextFrame(t, c)["type"])

	f.hub.Deliver("chat.42", json.RawMessage(`{}`))
	noFrame(t, c)
}

func TestHandleSend_ForcesSenderAndProduces(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", alice)

	send(t, f, c, `{"type":"send","id":"r1","destination":"app.chat.sendMessage","body":{"id":5,"content":"hi","sender":"mallory","roomId":"42"}}`)

	assert.Equal(t, "receipt", nextFrame(t, c)["type"])
	require.Len(t, f.producer.msgs, 1)
	msg := f.producer.msgs[0]
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "42", msg.RoomID)
	assert.Zero(t, msg.ID)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), msg.Timestamp)
}

func TestHandleSend_InvalidMessageRejected(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", alice)

	send(t, f, c, `{"type":"send","id":"r1","destination":"app.chat.sendMessage","body":{"content":"   ","roomId":"42"}}`)

	frame := nextFrame(t, c)
	assert.Equal(t, domain.ErrCodeBadRequest, frame["code"])
	assert.Equal(t, "r1", frame["id"])
	assert.Empty(t, f.producer.msgs)
}

func TestHandleSend_ProducerFailure(t *testing.T) {
	f := newFixture()
	f.producer.err = errors.New("queue full")
	c := f.connect(t, "c1", alice)

	send(t, f, c, `{"type":"send","destination":"app.chat.sendMessage","body":{"content":"hi","roomId":"42"}}`)

	assert.Equal(t, domain.ErrCodeInternalError, nextFrame(t, c)["code"])
}

func TestHandleSend_AnonymousRejected(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", domain.Anonymous)

	send(t, f, c, `{"type":"send","destination":"app.chat.sendMessage","body":{"content":"hi","roomId":"42"}}`)

	assert.Equal(t, domain.ErrCodeUnauthorized, nextFrame(t, c)["code"])
	assert.Empty(t, f.producer.msgs)
}

func TestHandleSend_TypingBypassesQueue(t *testing.T) {
	f := newFixture()
	sender := f.connect(t, "c1", alice)
	watcher := f.connect(t, "c2", domain.Principal{Username: "bob"})
	send(t, f, watcher, `{"type":"subscribe","id":"t","destination":"typing.42"}`)
	nextFrame(t, watcher)

	send(t, f, sender, `{"type":"send","destination":"app.chat.typing","body":{"roomId":"42","username":"mallory","typing":true}}`)

	frame := nextFrame(t, watcher)
	assert.Equal(t, "typing.42", frame["destination"])
	body := frame["body"].(map[string]interface{})
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, true, body["typing"])
	assert.Empty(t, f.producer.msgs)
}

func TestHandleSend_TypingWithoutRoomIgnored(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", alice)

	send(t, f, c, `{"type":"send","destination":"app.chat.typing","body":{"typing":true}}`)

	noFrame(t, c)
}

func TestHandleFrame_PingAndUnknown(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1", alice)

	send(t, f, c, `{"type":"ping"}`)
	assert.Equal(t, "pong", nextFrame(t, c)["type"])

	send(t, f, c, `{"type":"dance"}`)
	assert.Equal(t, domain.ErrCodeBadRequest, nextFrame(t, c)["code"])

	send(t, f, c, `not json`)
	assert.Equal(t, domain.ErrCodeBadRequest, nextFrame(t, c)["code"])
}
