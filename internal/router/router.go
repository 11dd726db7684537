// Package router picks the provider that answers each upstream request and
// falls back through the remaining providers when one fails.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/newthinker/marketgate/internal/backoff"
	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/metrics"
	"github.com/newthinker/marketgate/internal/provider"
	"github.com/newthinker/marketgate/internal/quota"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds router configuration
type Config struct {
	// CallTimeout bounds each adapter call unless the provider profile
	// sets its own timeout.
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	// ThrottleRPS caps upstream dispatch cycles per second across all
	// providers. Zero disables the global throttle.
	ThrottleRPS   float64 `mapstructure:"rps"`
	ThrottleBurst int     `mapstructure:"burst"`
}

// DefaultConfig returns default router configuration
func DefaultConfig() Config {
	return Config{
		CallTimeout: provider.DefaultTimeout,
	}
}

// Router dispatches upstream requests by priority, quota and backoff state.
type Router struct {
	cfg      Config
	registry *provider.Registry
	quota    *quota.Tracker
	backoff  *backoff.Controller
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *metrics.Registry
	now      func() time.Time
}

// New creates a new provider router
func New(cfg Config, registry *provider.Registry, q *quota.Tracker, b *backoff.Controller, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = provider.DefaultTimeout
	}
	r := &Router{
		cfg:      cfg,
		registry: registry,
		quota:    q,
		backoff:  b,
		logger:   logger,
		now:      time.Now,
	}
	if cfg.ThrottleRPS > 0 {
		burst := cfg.ThrottleBurst
		if burst <= 0 {
			burst = int(cfg.ThrottleRPS) + 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.ThrottleRPS), burst)
	}
	return r
}

// SetMetrics sets the metrics registry
func (r *Router) SetMetrics(reg *metrics.Registry) {
	r.metrics = reg
}

// Select returns the highest-priority adapter that supports the request, is
// not cooling down, has quota left in both windows and is not in tried.
func (r *Router) Select(kind core.DataKind, symbol string, tried map[string]struct{}) (provider.Adapter, error) {
	for _, a := range r.registry.Ordered() {
		name := a.Name()
		if _, done := tried[name]; done {
			continue
		}
		if !a.Supports(kind, symbol) {
			continue
		}
		if !r.backoff.IsEligible(name) {
			continue
		}
		if !r.quota.Available(name) {
			continue
		}
		return a, nil
	}
	return nil, core.Errorf(core.ErrAllProvidersExhausted, "no eligible provider for %s %s", kind, symbol)
}

// Quote fetches a quote through the first provider that answers.
func (r *Router) Quote(ctx context.Context, symbol string) (*core.Quote, error) {
	return dispatch(ctx, r, core.KindQuote, symbol, func(ctx context.Context, a provider.Adapter) (*core.Quote, error) {
		q, err := a.FetchQuote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if q == nil || q.Price <= 0 {
			return nil, core.Errorf(core.ErrBadResponse, "%s returned no price for %s", a.Name(), symbol)
		}
		q.Symbol = symbol
		q.Provider = a.Name()
		q.Stamp(r.now())
		return q, nil
	})
}

// Series fetches a historical series through the first provider that answers.
func (r *Router) Series(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error) {
	kind := core.KindForResolution(res)
	return dispatch(ctx, r, kind, symbol, func(ctx context.Context, a provider.Adapter) (*core.Series, error) {
		s, err := a.FetchSeries(ctx, symbol, res, count)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, core.Errorf(core.ErrBadResponse, "%s returned no series for %s", a.Name(), symbol)
		}
		s.Symbol = symbol
		s.Resolution = res
		s.Provider = a.Name()
		s.Normalize(count)
		return s, nil
	})
}

// dispatch runs one request cycle: each eligible provider is tried at most
// once, in priority order, until one succeeds.
func dispatch[T any](ctx context.Context, r *Router, kind core.DataKind, symbol string, call func(context.Context, provider.Adapter) (T, error)) (T, error) {
	var zero T

	if r.limiter != nil && !r.limiter.Allow() {
		r.backoff.TripGlobal()
		return zero, core.Errorf(core.ErrAllProvidersExhausted, "upstream request rate exceeded")
	}

	tried := make(map[string]struct{})
	var (
		lastErr   error
		attempts  int
		timeouts  int
		notFounds int
	)
	for {
		if err := ctx.Err(); err != nil {
			return zero, canceled(err)
		}

		a, err := r.Select(kind, symbol, tried)
		if err != nil {
			break
		}
		name := a.Name()
		tried[name] = struct{}{}
		r.quota.Commit(name)

		timeout := r.cfg.CallTimeout
		if t := a.Profile().Timeout; t > 0 {
			timeout = t
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		v, err := call(callCtx, a)
		cancel()
		attempts++

		if err == nil {
			r.metrics.RecordProviderRequest(name, "ok", time.Since(start).Seconds())
			r.backoff.RecordSuccess(name)
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, canceled(ctxErr)
		}

		err = provider.Classify(err)
		r.metrics.RecordProviderRequest(name, core.CodeOf(err), time.Since(start).Seconds())

		switch {
		case errors.Is(err, core.ErrRateLimited):
			r.backoff.RecordRateLimited(name)
		case errors.Is(err, core.ErrTimeout):
			timeouts++
		case errors.Is(err, core.ErrSymbolNotFound):
			notFounds++
		}

		r.logger.Warn("provider call failed, trying next",
			zap.String("provider", name),
			zap.String("kind", string(kind)),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		lastErr = err
	}

	switch {
	case lastErr == nil:
		return zero, core.Errorf(core.ErrAllProvidersExhausted, "no eligible provider for %s %s", kind, symbol)
	case timeouts == attempts:
		return zero, core.WrapError(core.ErrTimeout, lastErr)
	case notFounds == attempts:
		return zero, core.WrapError(core.ErrInvalidSymbol, lastErr)
	default:
		return zero, core.WrapError(core.ErrAllProvidersExhausted, lastErr)
	}
}

// canceled maps a caller context error; an expired caller deadline reads as
// an upstream timeout.
func canceled(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.WrapError(core.ErrTimeout, err)
	}
	return err
}
