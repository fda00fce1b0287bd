package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_WriteReadList(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "dead-letters/chat/2026-01-02/1-20.json", strings.NewReader(`{"b":2}`), -1, "application/json"))
	require.NoError(t, s.Write(ctx, "dead-letters/chat/2026-01-02/0-10.json", strings.NewReader(`{"a":1}`), -1, "application/json"))

	files, err := s.List(ctx, "dead-letters/chat")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "dead-letters/chat/2026-01-02/0-10.json", files[0].Key)
	assert.Equal(t, "dead-letters/chat/2026-01-02/1-20.json", files[1].Key)

	rc, err := s.Read(ctx, files[0].Key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	ok, err := s.Exists(ctx, files[1].Key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalStorage_MissingKey(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Read(ctx, "nope.json")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, "nope.json")
	require.NoError(t, err)
	assert.False(t, ok)

	files, err := s.List(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	err = s.Write(context.Background(), "../escape.json", strings.NewReader("x"), 1, "")
	assert.Error(t, err)

	_, err = s.Read(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
