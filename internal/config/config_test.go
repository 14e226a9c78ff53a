package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/tracker")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("TOKEN_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 3, cfg.CommandMaxRetries)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, 8760*time.Hour, cfg.ActivationValidity)
	assert.Equal(t, int64(10000), cfg.MaxConnections)
	assert.Equal(t, 60, cfg.ReportRatePerMinute)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadShortSigningKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOKEN_SIGNING_KEY", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SIGNING_KEY")
}

func TestLoadRejectsNegativeRetries(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("COMMAND_MAX_RETRIES", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMMAND_MAX_RETRIES")
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("COMMAND_TIMEOUT", "90s")
	t.Setenv("REPORT_BURST", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 5, cfg.ReportBurst)
}
