// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns an
// error and the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"asirinvest/core-service/internal/auth"
)

// Config holds all runtime configuration for the core service.
type Config struct {
	Port     string
	GRPCPort string
	Env      string

	StoreDriver  string // "postgres" or "memory"
	DatabaseURL  string
	RedisURL     string
	StoreTimeout time.Duration

	RetryAttempts      int
	AcceptanceBaseline int
	StatsStaleness     time.Duration
	VerifySchedule     string // cron spec, e.g. "@every 6h"

	AuthMode  string // "gateway" or "jwt"
	JWTSecret string

	// TrustedProxies are the gateway hops whose X-Forwarded-For is believed
	// for NDA origins. Empty means the direct peer address is recorded.
	TrustedProxies auth.Proxies
}

// Development reports whether ENV selects a development setup.
func (c *Config) Development() bool { return c.Env == "" || c.Env == "development" }

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getenv("CORE_PORT", "8083"),
		GRPCPort:    getenv("CORE_GRPC_PORT", "9083"),
		Env:         os.Getenv("ENV"),
		StoreDriver: getenv("STORE_DRIVER", "postgres"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		AuthMode:    getenv("AUTH_MODE", "gateway"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
	}

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.StoreDriver)
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	switch cfg.AuthMode {
	case "gateway":
	case "jwt":
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes when AUTH_MODE=jwt")
		}
	default:
		return nil, fmt.Errorf("AUTH_MODE must be gateway or jwt, got %q", cfg.AuthMode)
	}

	var err error
	if cfg.StoreTimeout, err = duration("STORE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatsStaleness, err = duration("STATS_STALENESS", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts, err = integer("RETRY_ATTEMPTS", 3, 1, 10); err != nil {
		return nil, err
	}
	if cfg.AcceptanceBaseline, err = integer("ACCEPTANCE_BASELINE", 0, 0, 100); err != nil {
		return nil, err
	}

	if cfg.TrustedProxies, err = auth.ParseProxies(os.Getenv("TRUSTED_PROXIES")); err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	cfg.VerifySchedule = getenv("VERIFY_SCHEDULE", "@every 6h")
	if _, err := cron.ParseStandard(cfg.VerifySchedule); err != nil {
		return nil, fmt.Errorf("VERIFY_SCHEDULE %q: %w", cfg.VerifySchedule, err)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, s)
	}
	return d, nil
}

func integer(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%s must be an integer in [%d, %d], got %q", key, lo, hi, s)
	}
	return v, nil
}
