package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, time.Minute, cfg.Scheduler.MaxIdleSleep)
	assert.Equal(t, "stream_jobs_wake", cfg.Scheduler.WakeChannel)
	assert.False(t, cfg.Scheduler.AutoMigrate)

	assert.Equal(t, 2, cfg.Upstream.RequestsPerSecond)
	assert.Equal(t, 3, cfg.Upstream.MaxRetries)

	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/db")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WAKE_CHANNEL", "custom_wake")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/db", cfg.Database.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "custom_wake", cfg.Scheduler.WakeChannel)
	assert.Equal(t, "postgres://env-host/db", GetDatabaseURL())
}
