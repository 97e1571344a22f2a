package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Queue.ProcessBatchLimit)
	assert.Equal(t, "* * * * *", cfg.Cron.Schedule)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9999"
log:
  level: debug
queue:
  retention: 168h
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 7*24*time.Hour, cfg.Queue.Retention)
	// Untouched keys keep their defaults.
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9999\"\n"), 0o600))

	t.Setenv("PUSHGARDEN_SERVER__PORT", "7777")
	t.Setenv("PUSHGARDEN_DATABASE__MAX_OPEN_CONNS", "42")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, 42, cfg.Database.MaxOpenConns)
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}
