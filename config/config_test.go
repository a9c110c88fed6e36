package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.WS.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.WS.PongWait)
	assert.Equal(t, 4096, cfg.WS.MaxContentLen)
	assert.Equal(t, 30*time.Second, cfg.Redis.OnlineTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
	// Dev mode: no external stores configured by default.
	assert.Empty(t, cfg.Mongo.URI)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WIRECHAT_SERVER_ADDR", ":9999")
	t.Setenv("WIRECHAT_WS_WRITE_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.WS.WriteTimeout)
}
