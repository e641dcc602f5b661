package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 0, cfg.Port)
	assert.Equal(t, float64(50), cfg.RateRPS)
	assert.Equal(t, 100, cfg.RateBurst)
	assert.True(t, cfg.SearchEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AGENTHUB_WORKSPACE", "/tmp/ws")
	t.Setenv("AGENTHUB_PORT", "7411")
	t.Setenv("AGENTHUB_RATE_RPS", "2.5")
	t.Setenv("AGENTHUB_SEARCH_ENABLED", "false")
	t.Setenv("AGENTHUB_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ws", cfg.Workspace)
	assert.Equal(t, 7411, cfg.Port)
	assert.Equal(t, 2.5, cfg.RateRPS)
	assert.False(t, cfg.SearchEnabled)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("AGENTHUB_PORT", "70000")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("AGENTHUB_PORT", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Port)
}
