package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 7, cfg.Billing.DueDays)
	assert.Equal(t, 24*time.Hour, cfg.Billing.ReminderMinInterval)
	assert.Equal(t, "staff", cfg.Billing.StaffInbox)
	assert.Equal(t, DevJWTSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, int64(10<<20), cfg.HTTP.MaxUploadBytes)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[app]
port = "9090"

[billing]
due_days = 10
reminder_min_interval = "72h"

[lock]
backend = "redis"
timeout = "2s"
`), 0o600))

	t.Setenv("RENTAL_APP_PORT", "7070")
	t.Setenv("RENTAL_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.App.Port, "env wins over file")
	assert.Equal(t, 10, cfg.Billing.DueDays)
	assert.Equal(t, 72*time.Hour, cfg.Billing.ReminderMinInterval)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Lock.Timeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:     AppConfig{Env: "development"},
			Auth:    AuthConfig{JWTSecret: "secret"},
			Lock:    LockConfig{Backend: "memory", Timeout: time.Second},
			Storage: StorageConfig{Backend: "memory"},
			Billing: BillingConfig{DueDays: 7},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown lock", func(c *Config) { c.Lock.Backend = "etcd" }, "lock.backend"},
		{"redis without addr", func(c *Config) { c.Lock.Backend = "redis" }, "redis.addr"},
		{"zero timeout", func(c *Config) { c.Lock.Timeout = 0 }, "lock.timeout"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, "storage.bucket"},
		{"negative due days", func(c *Config) { c.Billing.DueDays = -1 }, "due_days"},
		{"scheduler without interval", func(c *Config) { c.Scheduler.Enabled = true }, "scheduler.interval"},
		{"short production secret", func(c *Config) { c.App.Env = "production" }, "jwt_secret"},
		{"production wildcard cors", func(c *Config) {
			c.App.Env = "production"
			c.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.HTTP.CORSAllowOrigins = []string{"*"}
		}, "cors"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
