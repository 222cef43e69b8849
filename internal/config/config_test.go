package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Cluster.ShutdownTimeout)
	assert.Equal(t, 1, cfg.Cluster.Concurrency)
	assert.Equal(t, "json", cfg.Cluster.Codec)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Channel.Driver)
	assert.Equal(t, 50*time.Millisecond, cfg.Channel.PollInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestDecodeEmptyDocument(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cluster:
  base: file:///srv/activities/
  shutdown_timeout: 2s
  concurrency: 4
  codec: rtl
store:
  driver: sqlite
  path: /var/lib/durex/checkpoints.db
channel:
  driver: sqlite
  poll_interval: 10ms
logging:
  level: debug
  format: json
activities:
  a:
    timeout: 1500ms
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/activities/", cfg.Cluster.Base)
	assert.Equal(t, 2*time.Second, cfg.Cluster.ShutdownTimeout)
	assert.Equal(t, 4, cfg.Cluster.Concurrency)
	assert.Equal(t, "rtl", cfg.Cluster.Codec)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 10*time.Millisecond, cfg.Channel.PollInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout("a", time.Second))
	assert.Equal(t, time.Second, cfg.Timeout("b", time.Second))
}

func TestRedisDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader("store:\n  driver: redis\nchannel:\n  driver: redis\n"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "durex:", cfg.Store.Prefix)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown store driver":  "store:\n  driver: etcd\n",
		"sqlite store needs":    "store:\n  driver: sqlite\n",
		"requires the sqlite":   "channel:\n  driver: sqlite\n",
		"requires the redis":    "channel:\n  driver: redis\n",
		"listen address":        "metrics:\n  enabled: true\n",
		"must not be negative":  "activities:\n  a:\n    timeout: -1s\n",
		"unknown channel drive": "channel:\n  driver: kafka\n",
		"unknown codec":         "cluster:\n  codec: gob\n",
	}
	for want, doc := range cases {
		t.Run(want, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), want)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
