package app

import (
	"context"
	"errors"
	"time"

	"github.com/newthinker/marketgate/internal/api"
	"github.com/newthinker/marketgate/internal/backoff"
	"github.com/newthinker/marketgate/internal/cache"
	"github.com/newthinker/marketgate/internal/config"
	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/gateway"
	"github.com/newthinker/marketgate/internal/hub"
	"github.com/newthinker/marketgate/internal/metrics"
	"github.com/newthinker/marketgate/internal/provider"
	"github.com/newthinker/marketgate/internal/provider/alphavantage"
	"github.com/newthinker/marketgate/internal/provider/binance"
	"github.com/newthinker/marketgate/internal/provider/coingecko"
	"github.com/newthinker/marketgate/internal/provider/finnhub"
	"github.com/newthinker/marketgate/internal/provider/okx"
	"github.com/newthinker/marketgate/internal/provider/twelvedata"
	"github.com/newthinker/marketgate/internal/provider/yahoo"
	"github.com/newthinker/marketgate/internal/router"
	"github.com/newthinker/marketgate/internal/storage/archive"
	"go.uber.org/zap"
)

// App wires configuration into a running gateway and its HTTP server.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Registry
	archive archive.Storage
	gateway *gateway.Gateway
}

// New builds every component named by cfg. The caller validates cfg first.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	adapters, err := BuildAdapters(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewRegistry()
	}

	a.archive, err = archive.New(archive.Config{
		Type: cfg.Archive.Type,
		Path: cfg.Archive.Path,
		S3:   archive.S3Config(cfg.Archive.S3),
	})
	if err != nil {
		return nil, err
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(a.metrics),
	}
	if a.archive != nil {
		opts = append(opts, gateway.WithArchive(a.archive))
	}
	a.gateway, err = gateway.New(GatewayConfig(cfg), adapters, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Gateway returns the market data gateway.
func (a *App) Gateway() *gateway.Gateway {
	return a.gateway
}

// Close releases the gateway without serving.
func (a *App) Close() {
	a.gateway.Close()
}

// Run warms the cache from the archive, serves HTTP until ctx is done and
// then shuts down gracefully, saving the series snapshot last.
func (a *App) Run(ctx context.Context) error {
	defer a.gateway.Close()

	if a.archive != nil {
		if _, err := a.gateway.LoadSnapshot(ctx); err != nil {
			a.logger.Warn("loading series snapshot", zap.Error(err))
		}
	}

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	server := api.NewServer(api.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		MetricsPath: metricsPath,
	}, a.gateway, a.metrics, a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown", zap.Error(err))
	}
	if a.archive != nil {
		n, err := a.gateway.SaveSnapshot(shutdownCtx)
		if err != nil {
			a.logger.Error("saving series snapshot", zap.Error(err))
		} else {
			a.logger.Info("shutdown complete", zap.Int("snapshots", n))
		}
	}
	return serveErr
}

// BuildAdapters constructs the enabled providers in name order, applying
// any routing overrides from config.
func BuildAdapters(cfg *config.Config) ([]provider.Adapter, error) {
	var adapters []provider.Adapter
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		a, err := newAdapter(name, provider.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Timeout: pc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, provider.WithProfile(a, provider.Profile{
			Priority:  pc.Priority,
			PerMinute: pc.PerMinute,
			PerDay:    pc.PerDay,
			Timeout:   pc.Timeout,
		}))
	}
	if len(adapters) == 0 {
		return nil, core.Errorf(core.ErrNoProviders, "no provider is enabled")
	}
	return adapters, nil
}

func newAdapter(name string, pc provider.Config) (provider.Adapter, error) {
	switch name {
	case "finnhub":
		return finnhub.New(pc)
	case "twelvedata":
		return twelvedata.New(pc)
	case "alphavantage":
		return alphavantage.New(pc)
	case "yahoo":
		return yahoo.New(pc), nil
	case "binance":
		return binance.New(pc), nil
	case "okx":
		return okx.New(pc), nil
	case "coingecko":
		return coingecko.New(pc), nil
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown provider %q", name)
	}
}

// GatewayConfig maps the file configuration onto the gateway's.
func GatewayConfig(cfg *config.Config) gateway.Config {
	policy := func(p config.PolicyConfig) cache.Policy {
		return cache.Policy{TTL: p.TTL, StaleWhileRevalidate: p.StaleWhileRevalidate, MaxStale: p.MaxStale}
	}
	return gateway.Config{
		Policies: map[core.DataKind]cache.Policy{
			core.KindQuote:          policy(cfg.Cache.Quote),
			core.KindIntradaySeries: policy(cfg.Cache.Intraday),
			core.KindDailySeries:    policy(cfg.Cache.Daily),
		},
		MaxEntries: cfg.Cache.MaxEntries,
		Router: router.Config{
			CallTimeout:   cfg.Router.CallTimeout,
			ThrottleRPS:   cfg.Throttle.RPS,
			ThrottleBurst: cfg.Throttle.Burst,
		},
		Backoff: backoff.Config{
			Delay:         cfg.Backoff.Delay,
			CounterWindow: cfg.Backoff.CounterWindow,
		},
		Hub: hub.Config{PollInterval: cfg.Hub.PollInterval},
	}
}

// IsConfigError reports whether err came from configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, core.ErrConfigInvalid) ||
		errors.Is(err, core.ErrConfigMissing) ||
		errors.Is(err, core.ErrNoProviders)
}
