package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearRequired(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME", "TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET"} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	clearRequired(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	clearRequired(t)
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "eventfabric")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "eventfabric")
	t.Setenv("TWITCH_CLIENT_ID", "abc")
	t.Setenv("TWITCH_CLIENT_SECRET", "def")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "disable", cfg.DBSSLMode)
	assert.Equal(t, ":9001", cfg.OverlayAddr)
	assert.Equal(t, 10, cfg.RedisPoolSize)
	assert.Equal(t, "host=localhost port=5432 user=eventfabric password=secret dbname=eventfabric sslmode=disable", cfg.PostgresDSN())
}

func TestLoadInvalidInt(t *testing.T) {
	clearRequired(t)
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "eventfabric")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "eventfabric")
	t.Setenv("TWITCH_CLIENT_ID", "abc")
	t.Setenv("TWITCH_CLIENT_SECRET", "def")
	t.Setenv("REDIS_DB", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
