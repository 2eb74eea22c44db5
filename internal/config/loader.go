// Package config provides configuration management for deadlinecal.
//
// Values are layered: built-in defaults, an optional YAML file, then
// environment variables. Every key is reachable as DEADLINECAL_<SECTION>_<KEY>;
// the deployment variables RATE_LIMIT_*, DB_PATH and CALENDAR_HOST/PORT are
// bound as aliases.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable key.
const EnvPrefix = "DEADLINECAL"

// DefaultGroups are the module groups recognised by the TSV importer.
var DefaultGroups = []string{"CM1", "CM2", "CS1", "CS2", "CB", "CP1", "CP2", "CP3", "SP", "SA"}

// legacyEnv maps config keys to unprefixed environment variables.
var legacyEnv = map[string][]string{
	"rate_limit.enabled":        {"RATE_LIMIT_ENABLED"},
	"rate_limit.max_requests":   {"RATE_LIMIT_MAX_REQUESTS"},
	"rate_limit.window_seconds": {"RATE_LIMIT_WINDOW_SECONDS"},
	"store.path":                {"DB_PATH"},
	"store.allowed_root":        {"DB_ALLOWED_ROOT"},
	"server.host":               {"CALENDAR_HOST"},
	"server.port":               {"CALENDAR_PORT"},
	"server.public_host":        {"RAILWAY_STATIC_URL"},
}

// SetDefaults registers default values for every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.public_host", "")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "deadlines.db")
	v.SetDefault("store.allowed_root", "")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.max_requests", 60)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.sweep_schedule", "@every 1m")

	v.SetDefault("feed.name", "All Assignment Deadlines")
	v.SetDefault("feed.description", "Assignment and marking deadlines")
	v.SetDefault("feed.group_name", "%s Assignment Deadlines")
	v.SetDefault("feed.timezone", "Europe/London")
	v.SetDefault("feed.all_day", true)
	v.SetDefault("feed.uid_domain", "deadlines-calendar")
	v.SetDefault("feed.refresh_interval", "1h")

	v.SetDefault("import.academic_year", "2026")
	v.SetDefault("import.groups", DefaultGroups)

	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)
}

// BindEnv wires the prefixed environment variables and the legacy aliases.
// The prefixed name wins when both are set.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, aliases := range legacyEnv {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment bindings.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Load decodes the settings held by v into a validated Config.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, fmt.Errorf("viper instance is nil")
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Store.Path = strings.TrimSpace(c.Store.Path)
	c.Store.AllowedRoot = strings.TrimSpace(c.Store.AllowedRoot)
	if c.Store.AllowedRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		c.Store.AllowedRoot = wd
	}

	for i, group := range c.Import.Groups {
		c.Import.Groups[i] = strings.ToUpper(strings.TrimSpace(group))
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Server.PublicHost = strings.TrimSpace(c.Server.PublicHost)
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// Validate checks invariants that components rely on.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "libsql", "sqlite":
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("rate_limit.max_requests must be positive, got %d", c.RateLimit.MaxRequests)
		}
		if c.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limit.window_seconds must be positive, got %d", c.RateLimit.WindowSeconds)
		}
	}

	if _, err := time.LoadLocation(c.Feed.Timezone); err != nil {
		return fmt.Errorf("invalid feed timezone %q: %w", c.Feed.Timezone, err)
	}
	if strings.TrimSpace(c.Feed.UIDDomain) == "" {
		return fmt.Errorf("feed.uid_domain is required")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
