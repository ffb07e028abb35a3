package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, 16, cfg.Delivery.Parallelism)
	assert.False(t, cfg.Delivery.AutoRetry.Enabled)
	assert.Equal(t, []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute}, cfg.Delivery.AutoRetry.Schedule)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zentry.yaml")
	yaml := []byte(`
storage:
  driver: postgres
  postgres:
    dsn: postgres://localhost/zentry
delivery:
  workers: 2
  timeout: 5s
  auto_retry:
    enabled: true
    schedule: [1m, 5m]
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("ZENTRY_SERVER_PORT", "9191")
	t.Setenv("ZENTRY_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/zentry", cfg.Storage.Postgres.DSN)
	assert.Equal(t, 2, cfg.Delivery.Workers)
	assert.Equal(t, 5*time.Second, cfg.Delivery.Timeout)
	assert.True(t, cfg.Delivery.AutoRetry.Enabled)
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute}, cfg.Delivery.AutoRetry.Schedule)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
