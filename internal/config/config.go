package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server" yaml:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Cache     CacheConfig               `mapstructure:"cache" yaml:"cache"`
	Backoff   BackoffConfig             `mapstructure:"backoff" yaml:"backoff"`
	Throttle  ThrottleConfig            `mapstructure:"throttle" yaml:"throttle"`
	Hub       HubConfig                 `mapstructure:"hub" yaml:"hub"`
	Router    RouterConfig              `mapstructure:"router" yaml:"router"`
	Archive   ArchiveConfig             `mapstructure:"archive" yaml:"archive"`
	Metrics   MetricsConfig             `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig                 `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ProviderConfig enables one upstream adapter. Zero routing fields keep the
// adapter's own profile.
type ProviderConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Priority  int           `mapstructure:"priority" yaml:"priority,omitempty"`
	PerMinute int           `mapstructure:"per_minute" yaml:"per_minute,omitempty"`
	PerDay    int           `mapstructure:"per_day" yaml:"per_day,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

type CacheConfig struct {
	MaxEntries int          `mapstructure:"max_entries" yaml:"max_entries"`
	Quote      PolicyConfig `mapstructure:"quote" yaml:"quote"`
	Intraday   PolicyConfig `mapstructure:"series_intraday" yaml:"series_intraday"`
	Daily      PolicyConfig `mapstructure:"series_daily" yaml:"series_daily"`
}

// PolicyConfig is the freshness policy of one data kind.
type PolicyConfig struct {
	TTL                  time.Duration `mapstructure:"ttl" yaml:"ttl"`
	StaleWhileRevalidate bool          `mapstructure:"stale_while_revalidate" yaml:"stale_while_revalidate"`
	MaxStale             time.Duration `mapstructure:"max_stale" yaml:"max_stale"`
}

type BackoffConfig struct {
	Delay         time.Duration `mapstructure:"delay" yaml:"delay"`
	CounterWindow time.Duration `mapstructure:"counter_window" yaml:"counter_window"`
}

// ThrottleConfig caps upstream dispatch cycles across all providers. Zero
// RPS disables the throttle.
type ThrottleConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

type HubConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type RouterConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

type ArchiveConfig struct {
	Type string   `mapstructure:"type" yaml:"type"` // "", "local" or "s3"
	Path string   `mapstructure:"path" yaml:"path,omitempty"`
	S3   S3Config `mapstructure:"s3" yaml:"s3,omitempty"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development" yaml:"development"`
	Level       string `mapstructure:"level" yaml:"level"`
}

// KnownProviders lists the adapters marketgate ships and whether each one
// needs an API key.
var KnownProviders = map[string]bool{
	"finnhub":      true,
	"twelvedata":   true,
	"alphavantage": true,
	"yahoo":        false,
	"binance":      false,
	"okx":          false,
	"coingecko":    false,
}

// Load reads configuration from file on top of Defaults. A providers section
// replaces the default provider set. Values of the form
// ${VAR} are expanded from the environment and MARKETGATE_* variables
// override file keys.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix("marketgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("reading config: %w", err))
	}

	for _, key := range v.AllKeys() {
		if val, ok := v.Get(key).(string); ok && strings.Contains(val, "${") {
			v.Set(key, os.ExpandEnv(val))
		}
	}

	cfg := Defaults()
	if v.IsSet("providers") {
		cfg.Providers = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}
	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Providers: map[string]ProviderConfig{
			"yahoo": {Enabled: true},
		},
		Cache: CacheConfig{
			MaxEntries: 10000,
			Quote:      PolicyConfig{TTL: 15 * time.Second, StaleWhileRevalidate: true, MaxStale: time.Minute},
			Intraday:   PolicyConfig{TTL: time.Minute, StaleWhileRevalidate: true, MaxStale: 5 * time.Minute},
			Daily:      PolicyConfig{TTL: 12 * time.Hour, StaleWhileRevalidate: true, MaxStale: 24 * time.Hour},
		},
		Backoff: BackoffConfig{
			Delay:         time.Second,
			CounterWindow: time.Minute,
		},
		Hub: HubConfig{
			PollInterval: 5 * time.Second,
		},
		Router: RouterConfig{
			CallTimeout: 8 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// EnabledProviders returns the names of enabled providers, sorted.
func (c *Config) EnabledProviders() []string {
	var names []string
	for name, p := range c.Providers {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if len(c.EnabledProviders()) == 0 {
		return core.Errorf(core.ErrNoProviders, "enable at least one of providers.*")
	}
	for name, p := range c.Providers {
		needsKey, known := KnownProviders[name]
		if !known {
			return core.Errorf(core.ErrConfigInvalid, "unknown provider %q", name)
		}
		if !p.Enabled {
			continue
		}
		if needsKey && p.APIKey == "" {
			return core.Errorf(core.ErrConfigMissing, "providers.%s.api_key is required", name)
		}
		if p.PerMinute < 0 || p.PerDay < 0 || p.Timeout < 0 {
			return core.Errorf(core.ErrConfigInvalid, "providers.%s limits cannot be negative", name)
		}
	}

	if c.Cache.MaxEntries < 0 {
		return core.Errorf(core.ErrConfigInvalid, "cache.max_entries cannot be negative")
	}
	for kind, p := range map[string]PolicyConfig{
		"quote":           c.Cache.Quote,
		"series_intraday": c.Cache.Intraday,
		"series_daily":    c.Cache.Daily,
	} {
		if p.TTL < 0 || p.MaxStale < 0 {
			return core.Errorf(core.ErrConfigInvalid, "cache.%s durations cannot be negative", kind)
		}
		if p.StaleWhileRevalidate && p.MaxStale < p.TTL {
			return core.Errorf(core.ErrConfigInvalid, "cache.%s.max_stale must be at least ttl", kind)
		}
	}

	if c.Backoff.Delay < 0 || c.Backoff.CounterWindow < 0 {
		return core.Errorf(core.ErrConfigInvalid, "backoff durations cannot be negative")
	}
	if c.Throttle.RPS < 0 {
		return core.Errorf(core.ErrConfigInvalid, "throttle.rps cannot be negative, got %g", c.Throttle.RPS)
	}
	if c.Throttle.RPS > 0 && c.Throttle.Burst < 1 {
		return core.Errorf(core.ErrConfigInvalid, "throttle.burst must be at least 1 when rps is set")
	}
	if c.Hub.PollInterval <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "hub.poll_interval must be positive")
	}
	if c.Router.CallTimeout <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "router.call_timeout must be positive")
	}

	switch c.Archive.Type {
	case "":
	case "local":
		if c.Archive.Path == "" {
			return core.Errorf(core.ErrConfigMissing, "archive.path is required for local archive")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return core.Errorf(core.ErrConfigMissing, "archive.s3.bucket is required for s3 archive")
		}
	default:
		return core.Errorf(core.ErrConfigInvalid, "unknown archive type %q", c.Archive.Type)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		if p.APIKey != "" {
			p.APIKey = "***"
		}
		out.Providers[name] = p
	}
	if out.Archive.S3.SecretKey != "" {
		out.Archive.S3.SecretKey = "***"
	}
	return &out
}
