package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SignAndValidate(t *testing.T) {
	m, err := NewManager(Config{Secret: "test-secret", Issuer: "wes-io"})
	require.NoError(t, err)

	token, err := m.Sign("42", "alice", []string{"user"}, time.Minute)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, []string{"user"}, claims.Roles)
}

func TestManager_ExpiredToken(t *testing.T) {
	m, err := NewManager(Config{Secret: "test-secret"})
	require.NoError(t, err)

	token, err := m.Sign("42", "alice", nil, -time.Minute)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_WrongSecret(t *testing.T) {
	signer, err := NewManager(Config{Secret: "one"})
	require.NoError(t, err)
	verifier, err := NewManager(Config{Secret: "two"})
	require.NoError(t, err)

	token, err := signer.Sign("42", "alice", nil, time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_IssuerMismatch(t *testing.T) {
	signer, err := NewManager(Config{Secret: "s", Issuer: "other"})
	require.NoError(t, err)
	verifier, err := NewManager(Config{Secret: "s", Issuer: "wes-io"})
	require.NoError(t, err)

	token, err := signer.Sign("42", "alice", nil, time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewManager_RequiresKey(t *testing.T) {
	_, err := NewManager(Config{})
	assert.Error(t, err)
}
