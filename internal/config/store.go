package config

import (
	"fmt"
	"os"
	"time"
)

const (
	EnvStoreBackend          = "TRIAGE_STORE_BACKEND"
	EnvStoreRedisURL         = "TRIAGE_STORE_REDIS_URL"
	EnvStoreRedisTerminalTTL = "TRIAGE_STORE_REDIS_TERMINAL_TTL"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// StoreConfig selects and tunes the session store backend.
type StoreConfig struct {
	Backend          string `toml:"backend"`
	RedisURL         string `toml:"redis_url"`
	RedisTerminalTTL string `toml:"redis_terminal_ttl"`
}

// RedisTerminalTTLDuration returns RedisTerminalTTL as a time.Duration.
func (c *StoreConfig) RedisTerminalTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.RedisTerminalTTL)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *StoreConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *StoreConfig) Merge(overlay *StoreConfig) {
	if overlay.Backend != "" {
		c.Backend = overlay.Backend
	}
	if overlay.RedisURL != "" {
		c.RedisURL = overlay.RedisURL
	}
	if overlay.RedisTerminalTTL != "" {
		c.RedisTerminalTTL = overlay.RedisTerminalTTL
	}
}

func (c *StoreConfig) loadDefaults() {
	if c.Backend == "" {
		c.Backend = StorePostgres
	}
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379/0"
	}
	if c.RedisTerminalTTL == "" {
		c.RedisTerminalTTL = "24h"
	}
}

func (c *StoreConfig) loadEnv() {
	if v := os.Getenv(EnvStoreBackend); v != "" {
		c.Backend = v
	}
	if v := os.Getenv(EnvStoreRedisURL); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv(EnvStoreRedisTerminalTTL); v != "" {
		c.RedisTerminalTTL = v
	}
}

func (c *StoreConfig) validate() error {
	switch c.Backend {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if _, err := time.ParseDuration(c.RedisTerminalTTL); err != nil {
		return fmt.Errorf("invalid redis_terminal_ttl: %w", err)
	}
	return nil
}
