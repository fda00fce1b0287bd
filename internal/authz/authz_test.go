package authz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

type mockMembership struct {
	mu      sync.Mutex
	members map[string]map[string]bool
	err     error
	calls   int
}

func newMockMembership() *mockMembership {
	return &mockMembership{members: make(map[string]map[string]bool)}
}

func (m *mockMembership) add(user, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[user] == nil {
		m.members[user] = make(map[string]bool)
	}
	m.members[user][room] = true
}

func (m *mockMembership) revoke(user, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[user], room)
}

func (m *mockMembership) IsMember(_ context.Context, username, room string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return m.members[username][room], nil
}

var (
	alice = domain.Principal{UserID: "1", Username: "alice"}
	anon  = domain.Anonymous
)

func TestAuthorize_PolicyTable(t *testing.T) {
	mm := newMockMembership()
	mm.add("alice", "General")
	a := NewAuthorizer(mm)
	ctx := context.Background()

	tests := []struct {
		name string
		p    domain.Principal
		op   Operation
		dest string
		want bool
	}{
		{"connect anonymous", anon, Connect, "", true},
		{"disconnect anonymous", anon, Disconnect, "", true},
		{"heartbeat", anon, Heartbeat, "", true},
		{"unsubscribe anything", anon, Unsubscribe, "chat.General", true},
		{"send app authenticated", alice, Send, "app.chat.sendMessage", true},
		{"send app anonymous", anon, Send, "app.chat.sendMessage", false},
		{"send to broadcast destination", alice, Send, "chat.General", false},
		{"subscribe chat member", alice, Subscribe, "chat.General", true},
		{"subscribe typing member", alice, Subscribe, "typing.General", true},
		{"subscribe chat non-member", alice, Subscribe, "chat.Dev", false},
		{"subscribe chat anonymous", anon, Subscribe, "chat.General", false},
		{"subscribe chat unresolvable room", alice, Subscribe, "chat.", false},
		{"subscribe presence authenticated", alice, Subscribe, "presence.Dev", true},
		{"subscribe presence anonymous", anon, Subscribe, "presence.Dev", false},
		{"subscribe user queue", alice, Subscribe, "user.alice.invitations", true},
		{"subscribe app destination", alice, Subscribe, "app.chat.sendMessage", false},
		{"subscribe unknown", alice, Subscribe, "topic.x", false},
		{"bare message", alice, Message, "chat.General", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Authorize(ctx, tt.p, tt.op, tt.dest))
		})
	}
}

func TestAuthorize_SingleLookupPerSubscribe(t *testing.T) {
	mm := newMockMembership()
	mm.add("alice", "General")
	a := NewAuthorizer(mm)

	a.Authorize(context.Background(), alice, Subscribe, "chat.General")
	assert.Equal(t, 1, mm.calls)

	a.Authorize(context.Background(), anon, Subscribe, "chat.General")
	a.Authorize(context.Background(), alice, Subscribe, "presence.General")
	assert.Equal(t, 1, mm.calls)
}

func TestAuthorize_NoStaleAllowAfterRevocation(t *testing.T) {
	mm := newMockMembership()
	mm.add("alice", "General")
	a := NewAuthorizer(mm)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, a.Authorize(ctx, alice, Subscribe, "chat.General"))
	}

	mm.revoke("alice", "General")
	assert.False(t, a.Authorize(ctx, alice, Subscribe, "chat.General"))
	assert.Equal(t, 4, mm.calls)
}

func TestAuthorize_LookupErrorDenies(t *testing.T) {
	mm := newMockMembership()
	mm.err = errors.New("db down")
	a := NewAuthorizer(mm)

	assert.False(t, a.Authorize(context.Background(), alice, Subscribe, "chat.General"))
}
