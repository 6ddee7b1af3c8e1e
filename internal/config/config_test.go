package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", "{}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Addr)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(DataDir(), "tiles"), cfg.Storage.Path)
	assert.Equal(t, 15*time.Second, cfg.Tiles.FetchTimeout)
	assert.Equal(t, 10, cfg.Tiles.BatchSize)
	assert.Equal(t, 16, cfg.Tiles.QueueDepth)
	assert.Empty(t, cfg.Network.ProbeAddress)
	assert.Equal(t, 5*time.Second, cfg.Network.CheckInterval)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.Reconnect.ProbeTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Contains(t, cfg.Tiles.URLTemplate, "{z}/{x}/{y}")
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
storage:
  backend: file
  path: /tmp/tripmap
  maxSizeMB: 250
tiles:
  urlTemplate: "https://tiles.example.com/{z}/{x}/{y}.png?key={token}"
  accessToken: secret
  fetchTimeout: 5s
  batchSize: 4
network:
  probeAddress: "1.1.1.1:443"
reconnect:
  baseDelay: 500ms
  maxDelay: 8s
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/tripmap", cfg.Storage.Path)
	assert.Equal(t, 250, cfg.Storage.MaxSizeMB)
	assert.Equal(t, "secret", cfg.Tiles.AccessToken)
	assert.Equal(t, 5*time.Second, cfg.Tiles.FetchTimeout)
	assert.Equal(t, 4, cfg.Tiles.BatchSize)
	assert.Equal(t, "1.1.1.1:443", cfg.Network.ProbeAddress)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", "tiles:\n  batchSize: 4\n")
	t.Setenv("TRIPMAP_TILES_BATCHSIZE", "12")
	t.Setenv("TRIPMAP_STORAGE_BACKEND", "redis")
	t.Setenv("TRIPMAP_STORAGE_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Tiles.BatchSize)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Storage.Redis.Addr)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "config.yaml", "storage:\n  backend: sqlite\n"))
	assert.ErrorContains(t, err, "unknown storage backend")

	_, err = Load(writeConfig(t, "config.yaml", "tiles:\n  batchSize: 0\n"))
	assert.ErrorContains(t, err, "batchSize")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage: StorageConfig{Backend: BackendBadger, Path: "/tmp/tiles"},
			Tiles:   TilesConfig{URLTemplate: "https://t/{z}/{x}/{y}", BatchSize: 10, QueueDepth: 4},
		}
	}

	cfg := valid()
	assert.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Tiles.URLTemplate = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Storage.MaxSizeMB = -1
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Storage.Backend = BackendRedis
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Network.ProbeAddress = "1.1.1.1:443"
	assert.Error(t, cfg.Validate())
	cfg.Network.CheckInterval = time.Second
	assert.NoError(t, cfg.Validate())
}
