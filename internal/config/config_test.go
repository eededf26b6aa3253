package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, cfg.TLSEnabled())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("ZUZEL_PORT", "7000")
	t.Setenv("ZUZEL_HTTP_ADDR", ":8081")
	t.Setenv("ZUZEL_SPEED", "9")
	t.Setenv("ZUZEL_ROUNDS", "3")
	t.Setenv("ZUZEL_PUBLIC_SERVER", "true")
	t.Setenv("ZUZEL_POOL_SIZE", "4")
	t.Setenv("ZUZEL_LOG_LEVEL", "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 9, cfg.Speed)
	assert.Equal(t, 3, cfg.Rounds)
	assert.True(t, cfg.PublicServer)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ZUZEL_PLAYER_NAME=Tomasz\nZUZEL_ROUNDS=7\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("ZUZEL_PLAYER_NAME")
		_ = os.Unsetenv("ZUZEL_ROUNDS")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Tomasz", cfg.PlayerName)
	assert.Equal(t, 7, cfg.Rounds)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"speed out of range", "ZUZEL_SPEED", "10", "Speed"},
		{"rounds zero", "ZUZEL_ROUNDS", "0", "Rounds"},
		{"bad port", "ZUZEL_PORT", "http", "ZUZEL_PORT"},
		{"bad bool", "ZUZEL_PUBLIC_SERVER", "maybe", "ZUZEL_PUBLIC_SERVER"},
		{"log level", "ZUZEL_LOG_LEVEL", "trace", "LogLevel"},
		{"cert without key", "ZUZEL_TLS_CERT", "/nonexistent.pem", "TLSKey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
