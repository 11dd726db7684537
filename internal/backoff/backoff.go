// Package backoff imposes cooldowns on providers that report rate limiting,
// plus a global cooldown shared by every provider.
package backoff

import (
	"sort"
	"sync"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/metrics"
	"go.uber.org/zap"
)

const (
	// DefaultDelay is the flat cooldown applied after a rate limit.
	DefaultDelay = time.Second
	// DefaultCounterWindow is how long a 429 keeps counting toward the
	// consecutive total.
	DefaultCounterWindow = time.Minute
)

// Config holds controller settings. Zero values fall back to the defaults.
type Config struct {
	Delay         time.Duration
	CounterWindow time.Duration
}

type state struct {
	consecutive   int
	last429       time.Time
	cooldownUntil time.Time
}

// Controller tracks cooldowns keyed by provider name, with
// core.GlobalBackoff as the cross-provider entry.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	states  map[string]*state
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Registry
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics counts cooldown trips in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(c *Controller) { c.metrics = reg }
}

// New creates a controller.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.CounterWindow <= 0 {
		cfg.CounterWindow = DefaultCounterWindow
	}
	c := &Controller{
		cfg:    cfg,
		states: make(map[string]*state),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordRateLimited starts a cooldown for provider.
func (c *Controller) RecordRateLimited(provider string) {
	c.trip(provider)
}

// TripGlobal starts the global cooldown, making every provider ineligible
// for the configured delay.
func (c *Controller) TripGlobal() {
	c.trip(core.GlobalBackoff)
}

func (c *Controller) trip(provider string) {
	c.mu.Lock()
	now := c.now()
	s := c.state(provider)
	if !s.last429.IsZero() && now.Sub(s.last429) >= c.cfg.CounterWindow {
		s.consecutive = 0
	}
	s.consecutive++
	s.last429 = now
	s.cooldownUntil = now.Add(c.cfg.Delay)
	consecutive := s.consecutive
	c.mu.Unlock()

	c.metrics.RecordBackoffTrip(provider)
	c.logger.Warn("provider cooling down",
		zap.String("provider", provider),
		zap.Int("consecutive_429", consecutive),
		zap.Duration("delay", c.cfg.Delay),
	)
}

// RecordSuccess resets the consecutive rate-limit counter for provider.
// A running cooldown is left to expire on its own.
func (c *Controller) RecordSuccess(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.states[provider]; ok {
		s.consecutive = 0
	}
}

// IsEligible reports whether neither provider's own cooldown nor the global
// cooldown is active.
func (c *Controller) IsEligible(provider string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if s, ok := c.states[core.GlobalBackoff]; ok && now.Before(s.cooldownUntil) {
		return false
	}
	if s, ok := c.states[provider]; ok && now.Before(s.cooldownUntil) {
		return false
	}
	return true
}

// Snapshot returns every tracked cooldown, sorted by provider.
func (c *Controller) Snapshot() []core.BackoffState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]core.BackoffState, 0, len(c.states))
	for name, s := range c.states {
		out = append(out, core.BackoffState{
			Provider:       name,
			Consecutive429: s.consecutive,
			CooldownUntil:  s.cooldownUntil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// state returns the entry for provider, creating it. Callers must hold c.mu.
func (c *Controller) state(provider string) *state {
	s, ok := c.states[provider]
	if !ok {
		s = &state{}
		c.states[provider] = s
	}
	return s
}
