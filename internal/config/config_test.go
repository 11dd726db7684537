package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9090

providers:
  finnhub:
    enabled: true
    api_key: "abc"
    per_minute: 30
  binance:
    enabled: true
    timeout: 3s

cache:
  quote:
    ttl: 5s
    max_stale: 20s

archive:
  type: local
  path: "/tmp/marketgate/archive"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	assert.Equal(t, []string{"binance", "finnhub"}, cfg.EnabledProviders())
	assert.Equal(t, 30, cfg.Providers["finnhub"].PerMinute)
	assert.Equal(t, 3*time.Second, cfg.Providers["binance"].Timeout)

	assert.Equal(t, 5*time.Second, cfg.Cache.Quote.TTL)
	assert.True(t, cfg.Cache.Quote.StaleWhileRevalidate, "unset keys keep defaults")
	assert.Equal(t, 12*time.Hour, cfg.Cache.Daily.TTL)
	assert.Equal(t, "local", cfg.Archive.Type)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_FINNHUB_KEY", "secret-key")
	path := writeConfig(t, `
providers:
  finnhub:
    enabled: true
    api_key: "${TEST_FINNHUB_KEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-key", cfg.Providers["finnhub"].APIKey)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MARKETGATE_SERVER_PORT", "7070")
	path := writeConfig(t, `
server:
  port: 8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	assert.Equal(t, []string{"yahoo"}, cfg.EnabledProviders())
	assert.Equal(t, 8*time.Second, cfg.Router.CallTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   *core.Error
	}{
		{
			name:   "defaults",
			modify: func(*Config) {},
		},
		{
			name:   "invalid port - zero",
			modify: func(c *Config) { c.Server.Port = 0 },
			want:   core.ErrConfigInvalid,
		},
		{
			name:   "invalid port - too high",
			modify: func(c *Config) { c.Server.Port = 70000 },
			want:   core.ErrConfigInvalid,
		},
		{
			name:   "no enabled providers",
			modify: func(c *Config) { c.Providers = map[string]ProviderConfig{"yahoo": {}} },
			want:   core.ErrNoProviders,
		},
		{
			name:   "unknown provider",
			modify: func(c *Config) { c.Providers["bloomberg"] = ProviderConfig{Enabled: true} },
			want:   core.ErrConfigInvalid,
		},
		{
			name:   "missing api key",
			modify: func(c *Config) { c.Providers["twelvedata"] = ProviderConfig{Enabled: true} },
			want:   core.ErrConfigMissing,
		},
		{
			name:   "disabled provider without key",
			modify: func(c *Config) { c.Providers["twelvedata"] = ProviderConfig{} },
		},
		{
			name:   "negative limit",
			modify: func(c *Config) { c.Providers["yahoo"] = ProviderConfig{Enabled: true, PerDay: -1} },
			want:   core.ErrConfigInvalid,
		},
		{
			name:   "max stale below ttl",
			modify: func(c *Config) { c.Cache.Quote.MaxStale = time.Second },
			want:   core.ErrConfigInvalid,
		},
		{
			name:   "throttle without burst",
			modify: func(c *Config) { c.Throttle.RPS = 10 },
			want:   core.ErrConfigInvalid,
		},
		{
			name:   "zero poll interval",
			modify: func(c *Config) { c.Hub.PollInterval = 0 },
			want:   core.ErrConfigInvalid,
		},
		{
			name:   "local archive without path",
			modify: func(c *Config) { c.Archive.Type = "local" },
			want:   core.ErrConfigMissing,
		},
		{
			name:   "unknown archive",
			modify: func(c *Config) { c.Archive.Type = "ftp" },
			want:   core.ErrConfigInvalid,
		},
		{
			name:   "bad log level",
			modify: func(c *Config) { c.Log.Level = "loud" },
			want:   core.ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["finnhub"] = ProviderConfig{Enabled: true, APIKey: "abc"}
	cfg.Archive.S3.SecretKey = "s3cret"

	r := cfg.Redacted()
	assert.Equal(t, "***", r.Providers["finnhub"].APIKey)
	assert.Equal(t, "***", r.Archive.S3.SecretKey)
	assert.Equal(t, "abc", cfg.Providers["finnhub"].APIKey, "original untouched")
}
