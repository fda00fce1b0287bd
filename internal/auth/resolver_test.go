package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
)

func newResolver(t *testing.T) (*Resolver, *jwt.Manager) {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{Secret: "test-secret"})
	require.NoError(t, err)
	return NewResolver(m), m
}

func TestPrincipalOf_BearerHeader(t *testing.T) {
	res, m := newResolver(t)
	token, err := m.Sign("7", "alice", []string{"user"}, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	p := res.PrincipalOf(r)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "7", p.UserID)
	assert.Equal(t, []string{"user"}, p.Roles)
	assert.False(t, p.IsAnonymous())
}

func TestPrincipalOf_QueryToken(t *testing.T) {
	res, m := newResolver(t)
	token, err := m.Sign("7", "alice", nil, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)

	assert.Equal(t, "alice", res.PrincipalOf(r).Username)
}

func TestPrincipalOf_FallsBackToAnonymous(t *testing.T) {
	res, m := newResolver(t)
	expired, err := m.Sign("7", "alice", nil, -time.Minute)
	require.NoError(t, err)

	cases := map[string]string{
		"no token":      "",
		"garbage token": "Bearer not-a-jwt",
		"expired token": "Bearer " + expired,
		"basic auth":    "Basic YWxpY2U6c2VjcmV0",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if header != "" {
				r.Header.Set("Authorization", header)
			}
			assert.Equal(t, domain.Anonymous, res.PrincipalOf(r))
		})
	}
}
