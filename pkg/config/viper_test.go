package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ReadsNamedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker.yaml"), []byte("kafka:\n  group_id: chat-worker-b\n"), 0o644))

	v, err := Load(dir, "worker")
	require.NoError(t, err)
	assert.Equal(t, "chat-worker-b", v.GetString("kafka.group_id"))
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("KAFKA_TOPIC", "chat-messages-test")

	v, err := Load(t.TempDir(), "no-such-gateway")
	require.NoError(t, err)
	assert.Equal(t, "chat-messages-test", v.GetString("kafka.topic"))
}

func TestPath(t *testing.T) {
	assert.Equal(t, "./config", Path("./config"))

	t.Setenv("CONFIG_PATH", "/srv/chat")
	assert.Equal(t, "/srv/chat", Path("./config"))
}
