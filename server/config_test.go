package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads; getenv treats "" as unset.
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"ADDR", "DATABASE_URL", "LOG_LEVEL", "JWT_SECRET", "SESSION_COOKIE_NAME", "COOKIE_SAMESITE",
		"REORDER_MODE", "REDIS_URL", "ACTIVITY_BACKEND", "MONGO_URL", "MONGO_DATABASE",
		"S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_PUBLIC_URL",
		"CORS_ORIGINS", "TOKEN_TTL", "REORDER_TIMEOUT", "COOKIE_SECURE", "S3_USE_SSL",
		"CURSOR_RATE", "CURSOR_BURST",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, string(reindexStaged), cfg.ReorderMode)
	assert.Equal(t, 10*time.Second, cfg.ReorderTimeout)
	assert.Equal(t, "postgres", cfg.ActivityBackend)
	assert.False(t, cfg.S3.enabled())
}

func TestLoadConfigLayers(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "epitrello.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
reorder_mode: tx
cursor_rate: 5
cors_origins: ["http://localhost:3000"]
s3:
  endpoint: minio:9000
  bucket: avatars
`), 0o600))
	t.Setenv("ADDR", ":9100")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("REORDER_TIMEOUT", "3s")
	t.Setenv("COOKIE_SECURE", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr, "env wins over file")
	assert.Equal(t, string(reindexTx), cfg.ReorderMode)
	assert.Equal(t, 5.0, cfg.CursorRate)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 3*time.Second, cfg.ReorderTimeout)
	assert.True(t, cfg.CookieSecure)
	assert.True(t, cfg.S3.enabled())
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_TTL", "forever")
	t.Setenv("CURSOR_BURST", "lots")
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "TOKEN_TTL")
	assert.ErrorContains(t, err, "CURSOR_BURST")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad reorder mode", func(c *Config) { c.ReorderMode = "bulk" }, "reorder_mode"},
		{"mongo without url", func(c *Config) { c.ActivityBackend = "mongo" }, "mongo_url"},
		{"unknown activity backend", func(c *Config) { c.ActivityBackend = "s3" }, "activity_backend"},
		{"zero timeout", func(c *Config) { c.ReorderTimeout = 0 }, "reorder_timeout"},
		{"zero cursor rate", func(c *Config) { c.CursorRate = 0 }, "cursor_rate"},
		{"empty secret", func(c *Config) { c.JWTSecret = "" }, "jwt_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}
