// Package config defines the configuration for the commitment ledger server
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BEALIVE_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Lock     LockConfig     `toml:"lock"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Sweep    SweepConfig    `toml:"sweep"`
	Auth     AuthConfig     `toml:"auth"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// challenge cache and the distributed lock.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	CacheTTL duration `toml:"cache_ttl"`
}

// LockConfig selects the per-challenge lock implementation.
type LockConfig struct {
	// Backend is "memory" or "redis".
	Backend string   `toml:"backend"`
	TTL     duration `toml:"ttl"`
	Retry   duration `toml:"retry"`
}

// LedgerConfig holds the business rules the ledger leaves open.
type LedgerConfig struct {
	ForbidSelfCommit   bool   `toml:"forbid_self_commit"`
	MaxOpenStake       string `toml:"max_open_stake"` // decimal; "0" disables
	MaxOpenCommitments int    `toml:"max_open_commitments"`
}

// MaxOpenStakeDecimal parses MaxOpenStake. Call Validate first.
func (c LedgerConfig) MaxOpenStakeDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MaxOpenStake)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SweepConfig controls the expiry sweeper.
type SweepConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// AuthConfig holds the bearer token settings. An empty JWTSecret trusts the
// X-Participant-ID header instead.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
}

// duration wraps time.Duration so the TOML decoder can read strings like "5m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for local development.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: duration{10 * time.Second},
			CORSOrigins:     []string{"*"},
		},
		Redis: RedisConfig{
			CacheTTL: duration{5 * time.Minute},
		},
		Lock: LockConfig{
			Backend: "memory",
			TTL:     duration{10 * time.Second},
			Retry:   duration{25 * time.Millisecond},
		},
		Ledger: LedgerConfig{
			MaxOpenStake: "0",
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: duration{time.Minute},
		},
		Auth: AuthConfig{
			Issuer: "bealive",
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and returns an
// error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be > 0")
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.CacheTTL.Duration <= 0 {
		errs = append(errs, "redis: cache_ttl must be > 0")
	}

	// Lock
	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "lock: backend redis requires redis.addr")
		}
		if c.Lock.TTL.Duration <= 0 {
			errs = append(errs, "lock: ttl must be > 0")
		}
		if c.Lock.Retry.Duration <= 0 {
			errs = append(errs, "lock: retry must be > 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock: unknown backend %q (valid: memory, redis)", c.Lock.Backend))
	}

	// Ledger
	if d, err := decimal.NewFromString(c.Ledger.MaxOpenStake); err != nil {
		errs = append(errs, fmt.Sprintf("ledger: max_open_stake %q is not a decimal", c.Ledger.MaxOpenStake))
	} else if d.IsNegative() {
		errs = append(errs, "ledger: max_open_stake must be >= 0")
	}
	if c.Ledger.MaxOpenCommitments < 0 {
		errs = append(errs, "ledger: max_open_commitments must be >= 0")
	}

	// Sweep
	if c.Sweep.Enabled && c.Sweep.Interval.Duration <= 0 {
		errs = append(errs, "sweep: interval must be > 0 when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
