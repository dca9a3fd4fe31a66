package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.True(t, cfg.Ledger.MaxOpenStakeDecimal().IsZero())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bealive.toml")
	body := `
log_level = "debug"

[server]
port = 9000

[redis]
addr = "localhost:6379"
cache_ttl = "30s"

[lock]
backend = "redis"

[ledger]
forbid_self_commit = true
max_open_stake = "250.00"

[sweep]
interval = "15s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("BEALIVE_SERVER_PORT", "9100")
	t.Setenv("BEALIVE_LEDGER_MAX_OPEN_COMMITMENTS", "5")
	t.Setenv("BEALIVE_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("BEALIVE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL.Duration)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.True(t, cfg.Ledger.ForbidSelfCommit)
	assert.Equal(t, "250", cfg.Ledger.MaxOpenStakeDecimal().String())
	assert.Equal(t, 5, cfg.Ledger.MaxOpenCommitments)
	assert.Equal(t, 15*time.Second, cfg.Sweep.Interval.Duration)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// Untouched defaults survive the merge.
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL.Duration)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server, cfg.Server)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server: port"},
		{"redis lock without addr", func(c *Config) { c.Lock.Backend = "redis" }, "requires redis.addr"},
		{"unknown lock", func(c *Config) { c.Lock.Backend = "etcd" }, "unknown backend"},
		{"bad stake", func(c *Config) { c.Ledger.MaxOpenStake = "lots" }, "max_open_stake"},
		{"negative stake", func(c *Config) { c.Ledger.MaxOpenStake = "-5" }, "max_open_stake"},
		{"negative count", func(c *Config) { c.Ledger.MaxOpenCommitments = -1 }, "max_open_commitments"},
		{"zero sweep", func(c *Config) { c.Sweep.Interval.Duration = 0 }, "sweep: interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
