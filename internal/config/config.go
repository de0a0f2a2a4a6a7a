// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all sync daemon configuration.
type Config struct {
	// Local side
	SyncRoot  string
	CachePath string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsAddr string

	// Engine
	NagleDelay       time.Duration
	NotSeenThreshold int
	RemovalAttempts  int

	// Identity / crypto
	ClientID  uint64
	MasterKey string // hex-encoded 32-byte master key
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		SyncRoot:         envOr("SYNC_ROOT", ""),
		CachePath:        envOr("CACHE_PATH", "mirabelle.db"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		NagleDelay:       envDuration("NAGLE_DELAY", 11*time.Second),
		NotSeenThreshold: envInt("NOTSEEN_THRESHOLD", 2),
		RemovalAttempts:  envInt("REMOVAL_ATTEMPTS", 8),
		ClientID:         envUint64("CLIENT_ID", 1),
		MasterKey:        envOr("MASTER_KEY", ""),
	}

	if cfg.SyncRoot == "" {
		return nil, fmt.Errorf("SYNC_ROOT is required")
	}
	if cfg.MasterKey == "" {
		return nil, fmt.Errorf("MASTER_KEY is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envUint64(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
