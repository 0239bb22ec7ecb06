// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection;
// there is no ambient global.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for series view links.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// AllowedOrigins is the list of origins permitted to call the API
	// cross-origin. "*" allows all.
	AllowedOrigins []string

	// RateLimit holds the per-IP limiter settings for write endpoints.
	RateLimit RateLimitConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig
}

// RateLimitConfig holds per-IP rate limiter parameters.
type RateLimitConfig struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int

	// Window is the sliding window duration.
	Window time.Duration
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string

	// DialTimeout bounds the startup connectivity check.
	DialTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),

		RateLimit: RateLimitConfig{
			MaxRequests: getEnvInt("RATE_LIMIT_MAX", 60),
			Window:      getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},

		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", "redis://localhost:6379"),
			DialTimeout: getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var or returns the default.
func getEnvList(key string, defaultVal []string) []string {
	if val, ok := os.LookupEnv(key); ok {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "5s") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
