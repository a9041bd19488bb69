package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stake-ledger/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("SERVER_PORT", "")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, "test-secret", cfg.JWTSecret)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, "@every 5m", cfg.RatesRefreshSchedule)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoad_EnvOverridesDotEnv(t *testing.T) {
	// GIVEN: A .env file and an environment variable for the same key
	// WHEN: Loading
	// THEN: The environment wins, the file fills the rest

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("JWT_SECRET=from-file\nSERVER_PORT=9090\nDATABASE_DRIVER=Memory\n"), 0o600))
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_DRIVER", "")

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.ServerPort)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "memory", cfg.DatabaseDriver)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := config.Load(t.TempDir())
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestValidate(t *testing.T) {
	valid := config.Config{
		DatabaseDriver: "postgres",
		DatabaseURL:    "postgres://localhost/ledger",
		JWTSecret:      "s",
		RetryAttempts:  1,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown driver", func(c *config.Config) { c.DatabaseDriver = "mysql" }, "DATABASE_DRIVER"},
		{"missing url", func(c *config.Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"missing secret", func(c *config.Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"negative rate limit", func(c *config.Config) { c.RateLimitPerMinute = -1 }, "RATE_LIMIT_PER_MINUTE"},
		{"no attempts", func(c *config.Config) { c.RetryAttempts = 0 }, "RETRY_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	memory := config.Config{DatabaseDriver: "memory", JWTSecret: "s", RetryAttempts: 1}
	assert.NoError(t, memory.Validate(), "memory needs no DATABASE_URL")
}

func TestAllowedOrigins(t *testing.T) {
	cfg := config.Config{CORSOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
	assert.Empty(t, config.Config{}.AllowedOrigins())
}
