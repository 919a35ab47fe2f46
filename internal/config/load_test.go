package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 4, cfg.Scheduler.WorkerCount)
	assert.Equal(t, 256, cfg.Scheduler.QueueCapacity)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TaskTimeout)
	assert.Equal(t, int64(64<<20), cfg.Cache.CapacityBytes)
	assert.Equal(t, 16, cfg.Cache.ShardCount)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Breaker.Window)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseDelay)
	assert.True(t, cfg.Retry.Jitter)
	assert.Equal(t, 5*time.Minute, cfg.Collab.SessionIdleTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELAY_SERVER_PORT", "9090")
	t.Setenv("RELAY_SERVER_LOG_LEVEL", "debug")
	t.Setenv("RELAY_SCHEDULER_WORKER_COUNT", "8")
	t.Setenv("RELAY_RETRY_BASE_DELAY", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 8, cfg.Scheduler.WorkerCount)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("RELAY_SERVER_PORT", "0")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "validation")
}

func TestLoad_InvalidLogLevelRejected(t *testing.T) {
	t.Setenv("RELAY_SERVER_LOG_LEVEL", "verbose")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
}
