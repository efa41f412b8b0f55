package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "classsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, "./classsync.db", cfg.Cache.Path)
	assert.Equal(t, 64, cfg.Channel.QueueCapacity)
	assert.Equal(t, 30*time.Second, cfg.Channel.PingInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Channel.BackoffBase)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
cache:
  backend: memory
channel:
  queue_capacity: 0
  backoff_max: 10s
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Zero(t, cfg.Channel.QueueCapacity, "replay queue can be disabled explicitly")
	assert.Equal(t, 10*time.Second, cfg.Channel.BackoffMax)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Channel.PingInterval)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)
	t.Setenv("CLASSSYNC_SERVER_PORT", "7070")
	t.Setenv("CLASSSYNC_CACHE_BACKEND", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad port":       "server:\n  port: -1\n",
		"bad backend":    "cache:\n  backend: etcd\n",
		"no sqlite path": "cache:\n  backend: sqlite\n  path: \"\"\n",
		"negative queue": "channel:\n  queue_capacity: -5\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
