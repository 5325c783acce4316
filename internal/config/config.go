// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration. It implements the narrow
// interfaces in platform/config so each consumer sees only what it needs.
type Config struct {
	Env                string
	HTTPAddr           string
	DatabaseURL        string
	CORSAllowAll       bool
	CORSOrigins        []string
	ShutdownTimeout    time.Duration
	DefaultPhoneRegion string
	WebhookRateRPS     float64
	WebhookRateBurst   int
}

// Load reads configuration from the environment (and a local .env file when
// present) and validates the required settings.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                getEnv("APP_ENV", "development"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		CORSAllowAll:       corsAllowAll,
		CORSOrigins:        corsOrigins,
		ShutdownTimeout:    mustDuration(getEnv("SHUTDOWN_TIMEOUT", "10s")),
		DefaultPhoneRegion: getEnv("DEFAULT_PHONE_REGION", "BR"),
		WebhookRateRPS:     mustFloat(getEnv("WEBHOOK_RATE_RPS", "10")),
		WebhookRateBurst:   mustInt(getEnv("WEBHOOK_RATE_BURST", "30")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// GetDatabaseURL implements config.DatabaseConfig.
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// GetHTTPAddr implements config.HTTPConfig.
func (c *Config) GetHTTPAddr() string { return c.HTTPAddr }

// GetCORSAllowAll implements config.HTTPConfig.
func (c *Config) GetCORSAllowAll() bool { return c.CORSAllowAll }

// GetCORSOrigins implements config.HTTPConfig.
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// GetShutdownTimeout implements config.HTTPConfig.
func (c *Config) GetShutdownTimeout() time.Duration { return c.ShutdownTimeout }

// GetDefaultPhoneRegion implements config.IngestConfig.
func (c *Config) GetDefaultPhoneRegion() string { return c.DefaultPhoneRegion }

// GetWebhookRateRPS implements config.IngestConfig.
func (c *Config) GetWebhookRateRPS() float64 { return c.WebhookRateRPS }

// GetWebhookRateBurst implements config.IngestConfig.
func (c *Config) GetWebhookRateBurst() int { return c.WebhookRateBurst }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func mustFloat(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 10
	}
	return f
}

func mustInt(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 30
	}
	return n
}
