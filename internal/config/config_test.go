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

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, "renga.db", cfg.SQLitePath)
	assert.Equal(t, 24*time.Hour, cfg.ApprovalTokenTTL)
	assert.Equal(t, 50, cfg.RateLimitRPS)
	assert.Equal(t, int64(1<<20), cfg.MaxRequestBodyBytes)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RENGA_PORT", "9999")
	t.Setenv("RENGA_STORE", "sqlite")
	t.Setenv("RENGA_SQLITE_PATH", "/tmp/test.db")
	t.Setenv("RENGA_EXECUTOR_TIMEOUT", "90s")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, "/tmp/test.db", cfg.SQLitePath)
	assert.Equal(t, 90*time.Second, cfg.ExecutorTimeout)
	assert.True(t, cfg.OTELInsecure)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("RENGA_PORT", "not-a-number")
	t.Setenv("RENGA_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("RENGA_STORE", "mongodb")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RENGA_STORE")

	cfg := Config{
		Store:               "sqlite",
		SQLitePath:          "renga.db",
		MaxRequestBodyBytes: 1,
		EventBufferSize:     1,
		RateLimitRPS:        1,
		RateLimitBurst:      1,
	}
	assert.NoError(t, cfg.Validate())

	cfg.EventBufferSize = 0
	assert.Error(t, cfg.Validate())

	cfg.EventBufferSize = 1
	cfg.Store = "postgres"
	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate())
}
