package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BEALIVE_* environment variable overrides, and
// returns the final Config. A missing file is not an error: defaults and
// the environment still apply. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BEALIVE_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setInt(&cfg.Server.Port, "BEALIVE_SERVER_PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "BEALIVE_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "BEALIVE_SERVER_CORS_ORIGINS")

	// ── Database ──
	setStr(&cfg.Database.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Database.DSN, "BEALIVE_DATABASE_DSN")
	setBool(&cfg.Database.RunMigrations, "BEALIVE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BEALIVE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BEALIVE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BEALIVE_REDIS_DB")
	setDuration(&cfg.Redis.CacheTTL, "BEALIVE_REDIS_CACHE_TTL")

	// ── Lock ──
	setStr(&cfg.Lock.Backend, "BEALIVE_LOCK_BACKEND")
	setDuration(&cfg.Lock.TTL, "BEALIVE_LOCK_TTL")
	setDuration(&cfg.Lock.Retry, "BEALIVE_LOCK_RETRY")

	// ── Ledger ──
	setBool(&cfg.Ledger.ForbidSelfCommit, "BEALIVE_LEDGER_FORBID_SELF_COMMIT")
	setStr(&cfg.Ledger.MaxOpenStake, "BEALIVE_LEDGER_MAX_OPEN_STAKE")
	setInt(&cfg.Ledger.MaxOpenCommitments, "BEALIVE_LEDGER_MAX_OPEN_COMMITMENTS")

	// ── Sweep ──
	setBool(&cfg.Sweep.Enabled, "BEALIVE_SWEEP_ENABLED")
	setDuration(&cfg.Sweep.Interval, "BEALIVE_SWEEP_INTERVAL")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "BEALIVE_AUTH_JWT_SECRET")
	setStr(&cfg.Auth.Issuer, "BEALIVE_AUTH_ISSUER")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BEALIVE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
