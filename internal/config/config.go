package config

import (
	"time"
)

// Config is the complete, immutable application configuration. It is built
// once at startup by Load and handed to each component by value.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Import    ImportConfig    `mapstructure:"import"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustProxy derives the client address from the left-most
	// X-Forwarded-For entry. Enable only behind a reverse proxy that sets it.
	TrustProxy bool `mapstructure:"trust_proxy"`

	// PublicHost overrides the Host header when building subscribe links.
	PublicHost string `mapstructure:"public_host"`
}

// StoreConfig contains database configuration.
type StoreConfig struct {
	// Driver is "libsql" or "sqlite".
	Driver string `mapstructure:"driver"`

	// Path is the database file as configured. It is never opened directly;
	// it is validated against AllowedRoot first.
	Path string `mapstructure:"path"`

	// AllowedRoot bounds Path. Empty means the working directory.
	AllowedRoot string `mapstructure:"allowed_root"`
}

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxRequests   int    `mapstructure:"max_requests"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// Window returns the sliding window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// FeedConfig controls calendar rendering.
type FeedConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`

	// GroupName is a fmt pattern applied to a category, e.g. "%s Assignment Deadlines".
	GroupName string `mapstructure:"group_name"`

	// Timezone is the IANA zone all-day dates are expressed in.
	Timezone string `mapstructure:"timezone"`

	// AllDay emits every event as a floating all-day date. When false every
	// event is emitted as a UTC date-time.
	AllDay bool `mapstructure:"all_day"`

	UIDDomain       string        `mapstructure:"uid_domain"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// ImportConfig controls the TSV importer.
type ImportConfig struct {
	AcademicYear string   `mapstructure:"academic_year"`
	Groups       []string `mapstructure:"groups"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
