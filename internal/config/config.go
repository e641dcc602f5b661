package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all hub configuration.
type Config struct {
	// Workspace is the directory the hub owns. Empty means "discover by
	// walking up from the current directory".
	Workspace string

	// Server
	Host string
	Port int

	// Rate limiting (requests per second and burst, per bearer token).
	RateRPS   float64
	RateBurst int

	// Search
	SearchEnabled bool

	// App
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Workspace:     getEnv("AGENTHUB_WORKSPACE", ""),
		Host:          getEnv("AGENTHUB_HOST", "127.0.0.1"),
		Port:          getEnvInt("AGENTHUB_PORT", 0),
		RateRPS:       getEnvFloat("AGENTHUB_RATE_RPS", 50),
		RateBurst:     getEnvInt("AGENTHUB_RATE_BURST", 100),
		SearchEnabled: getEnvBool("AGENTHUB_SEARCH_ENABLED", true),
		LogLevel:      getEnv("AGENTHUB_LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("AGENTHUB_HOST must not be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("AGENTHUB_PORT must be in [0, 65535], got %d", c.Port)
	}
	if c.RateRPS <= 0 {
		return fmt.Errorf("AGENTHUB_RATE_RPS must be > 0, got %v", c.RateRPS)
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("AGENTHUB_RATE_BURST must be > 0, got %d", c.RateBurst)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
