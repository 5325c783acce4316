// Package config defines the configuration interfaces consumed by the
// platform and module layers. Each consumer depends only on the narrow
// interface it needs; the concrete implementation lives in internal/config.
package config

import "time"

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides HTTP server settings.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetShutdownTimeout() time.Duration
}

// IngestConfig provides settings for the webhook ingestion module.
type IngestConfig interface {
	// GetDefaultPhoneRegion is the fallback region for national-format
	// phone numbers in payloads.
	GetDefaultPhoneRegion() string
	// GetWebhookRateRPS and GetWebhookRateBurst tune the per-IP limiter on
	// the public webhook endpoint.
	GetWebhookRateRPS() float64
	GetWebhookRateBurst() int
}
