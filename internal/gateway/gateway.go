// Package gateway is the single entry point to market data. It composes the
// provider router, the cache, quota and backoff state and the real-time hub
// into one request API and one subscription API.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/newthinker/marketgate/internal/backoff"
	"github.com/newthinker/marketgate/internal/cache"
	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/hub"
	"github.com/newthinker/marketgate/internal/metrics"
	"github.com/newthinker/marketgate/internal/provider"
	"github.com/newthinker/marketgate/internal/quota"
	"github.com/newthinker/marketgate/internal/router"
	"github.com/newthinker/marketgate/internal/storage/archive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxSeriesCount is the largest number of bars one request may ask for.
	MaxSeriesCount = 5000
	// MaxBatchSymbols bounds GetQuotes.
	MaxBatchSymbols = 100

	batchConcurrency = 8
)

// Config holds gateway configuration
type Config struct {
	Policies   map[core.DataKind]cache.Policy
	MaxEntries int
	Router     router.Config
	Backoff    backoff.Config
	Hub        hub.Config
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Policies:   cache.DefaultPolicies(),
		MaxEntries: 10000,
		Router:     router.DefaultConfig(),
		Hub:        hub.Config{PollInterval: hub.DefaultPollInterval},
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics wires every component to reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(g *Gateway) { g.metrics = reg }
}

// WithArchive enables SaveSnapshot and LoadSnapshot.
func WithArchive(store archive.Storage) Option {
	return func(g *Gateway) { g.archive = store }
}

// WithClock replaces time.Now in quota, backoff and cache, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// seriesEntry remembers how many bars were requested upstream so a later,
// larger request is not served a shorter cached series.
type seriesEntry struct {
	Series    *core.Series `json:"series"`
	Requested int          `json:"requested"`
}

// Gateway owns all shared market data state. Independent instances share
// nothing.
type Gateway struct {
	cfg      Config
	registry *provider.Registry
	quota    *quota.Tracker
	backoff  *backoff.Controller
	router   *router.Router
	quotes   *cache.Cache[*core.Quote]
	series   *cache.Cache[*seriesEntry]
	hub      *hub.Hub
	archive  archive.Storage
	logger   *zap.Logger
	metrics  *metrics.Registry
	now      func() time.Time
}

// New builds a gateway over adapters. At least one adapter is required.
func New(cfg Config, adapters []provider.Adapter, opts ...Option) (*Gateway, error) {
	if len(adapters) == 0 {
		return nil, core.Errorf(core.ErrNoProviders, "at least one provider must be enabled")
	}

	g := &Gateway{
		cfg:      cfg,
		registry: provider.NewRegistry(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if cfg.Policies == nil {
		g.cfg.Policies = cache.DefaultPolicies()
	}

	g.quota = quota.New(quota.WithClock(g.now), quota.WithMetrics(g.metrics))
	g.backoff = backoff.New(cfg.Backoff,
		backoff.WithClock(g.now),
		backoff.WithLogger(g.logger.Named("backoff")),
		backoff.WithMetrics(g.metrics),
	)

	for _, a := range adapters {
		if err := g.registry.Register(a); err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
		p := a.Profile()
		g.quota.SetLimits(a.Name(), p.PerMinute, p.PerDay)
	}

	g.router = router.New(cfg.Router, g.registry, g.quota, g.backoff, g.logger.Named("router"))
	g.router.SetMetrics(g.metrics)

	cacheOpts := []cache.Option{
		cache.WithClock(g.now),
		cache.WithMaxEntries(cfg.MaxEntries),
		cache.WithLogger(g.logger.Named("cache")),
		cache.WithMetrics(g.metrics),
	}
	g.quotes = cache.New[*core.Quote](g.cfg.Policies, cacheOpts...)
	g.series = cache.New[*seriesEntry](g.cfg.Policies, cacheOpts...)

	g.hub = hub.New(cfg.Hub, g.realtimeQuote, g.logger.Named("hub"))
	g.hub.SetMetrics(g.metrics)

	g.logger.Info("gateway ready", zap.Int("providers", g.registry.Len()))
	return g, nil
}

// GetQuote returns the latest quote for symbol.
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	q, _, err := g.LookupQuote(ctx, symbol)
	return q, err
}

// LookupQuote is GetQuote that also reports whether the cache answered.
func (g *Gateway) LookupQuote(ctx context.Context, symbol string) (*core.Quote, cache.State, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, cache.Miss, err
	}
	return g.loadQuote(ctx, symbol, false)
}

// Refresh bypasses the freshness check and fetches symbol's quote upstream,
// still coalescing with any fetch already in flight.
func (g *Gateway) Refresh(ctx context.Context, symbol string) (*core.Quote, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	q, _, err := g.loadQuote(ctx, symbol, true)
	return q, err
}

func (g *Gateway) loadQuote(ctx context.Context, symbol string, force bool) (*core.Quote, cache.State, error) {
	q, state, err := g.quotes.Load(ctx, cache.QuoteKey(symbol), force, func(ctx context.Context) (*core.Quote, error) {
		return g.router.Quote(ctx, symbol)
	})
	if err != nil {
		return nil, state, err
	}
	out := *q
	return &out, state, nil
}

// QuoteResult is one symbol's outcome in a batch.
type QuoteResult struct {
	Symbol string
	Quote  *core.Quote
	Cache  cache.State
	Err    error
}

// GetQuotes fetches several quotes concurrently. Invalid symbols fail the
// whole batch; upstream failures are reported per symbol.
func (g *Gateway) GetQuotes(ctx context.Context, symbols []string) ([]QuoteResult, error) {
	symbols, err := core.NormalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, core.Errorf(core.ErrInvalidRequest, "no symbols given")
	}
	if len(symbols) > MaxBatchSymbols {
		return nil, core.Errorf(core.ErrInvalidRequest, "at most %d symbols per batch", MaxBatchSymbols)
	}

	results := make([]QuoteResult, len(symbols))
	var eg errgroup.Group
	eg.SetLimit(batchConcurrency)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		eg.Go(func() error {
			q, state, err := g.loadQuote(ctx, symbol, false)
			results[i] = QuoteResult{Symbol: symbol, Quote: q, Cache: state, Err: err}
			return nil
		})
	}
	eg.Wait()
	return results, nil
}

// GetSeries returns the most recent count bars of symbol at res.
func (g *Gateway) GetSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error) {
	s, _, err := g.LookupSeries(ctx, symbol, res, count)
	return s, err
}

// LookupSeries is GetSeries that also reports whether the cache answered.
func (g *Gateway) LookupSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, cache.State, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, cache.Miss, err
	}
	if _, err := core.ParseResolution(string(res)); err != nil {
		return nil, cache.Miss, err
	}
	if count < 1 || count > MaxSeriesCount {
		return nil, cache.Miss, core.Errorf(core.ErrInvalidRequest, "count must be between 1 and %d", MaxSeriesCount)
	}

	key := cache.SeriesKey(symbol, res)
	fetch := func(ctx context.Context) (*seriesEntry, error) {
		s, err := g.router.Series(ctx, symbol, res, count)
		if err != nil {
			return nil, err
		}
		return &seriesEntry{Series: s, Requested: count}, nil
	}

	e, state, err := g.series.Load(ctx, key, false, fetch)
	if err == nil && e.Requested < count {
		e, state, err = g.series.Load(ctx, key, true, fetch)
	}
	if err != nil {
		return nil, state, err
	}
	return trim(e.Series, count), state, nil
}

// trim copies the last count points of s.
func trim(s *core.Series, count int) *core.Series {
	out := *s
	points := s.Points
	if len(points) > count {
		points = points[len(points)-count:]
	}
	out.Points = append([]core.Bar(nil), points...)
	return &out
}

// SubscribeRealtime registers onUpdate for every symbol. The returned
// function removes all of those subscriptions and is safe to call more than
// once.
func (g *Gateway) SubscribeRealtime(symbols []string, onUpdate func(symbol string, q core.Quote)) (func(), error) {
	if onUpdate == nil {
		return nil, core.Errorf(core.ErrInvalidRequest, "nil update callback")
	}
	symbols, err := core.NormalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, core.Errorf(core.ErrInvalidRequest, "no symbols given")
	}

	handles := make([]hub.Handle, 0, len(symbols))
	unsubscribe := func() {
		for _, h := range handles {
			g.hub.Unsubscribe(h)
		}
	}
	for _, symbol := range symbols {
		symbol := symbol
		h, err := g.hub.Subscribe(symbol, func(q core.Quote) {
			onUpdate(symbol, q)
		})
		if err != nil {
			unsubscribe()
			return nil, err
		}
		handles = append(handles, h)
	}

	var once sync.Once
	return func() { once.Do(unsubscribe) }, nil
}

// realtimeQuote is the hub's fetcher; ticks go through the quote cache.
func (g *Gateway) realtimeQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	q, _, err := g.loadQuote(ctx, symbol, false)
	return q, err
}

// QuotaStatus returns the quota state of every provider window.
func (g *Gateway) QuotaStatus() []core.QuotaState {
	return g.quota.Snapshot()
}

// BackoffStatus returns every tracked cooldown, including the global one.
func (g *Gateway) BackoffStatus() []core.BackoffState {
	return g.backoff.Snapshot()
}

// Providers returns the registered provider names in priority order.
func (g *Gateway) Providers() []string {
	adapters := g.registry.Ordered()
	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name()
	}
	return names
}

// ActiveSymbols returns the symbols with live subscribers.
func (g *Gateway) ActiveSymbols() []string {
	return g.hub.ActiveSymbols()
}

// Close stops all real-time poll loops.
func (g *Gateway) Close() {
	g.hub.Close()
}
