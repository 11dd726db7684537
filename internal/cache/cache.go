// Package cache stores normalized market data with per-kind freshness
// policies. Concurrent misses for one key share a single upstream fetch, and
// stale entries can be served while a background refresh runs.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the outcome of a lookup.
type State int

const (
	Miss State = iota
	Fresh
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Key identifies a cached value. Resolution is empty for quotes.
type Key struct {
	Symbol     string
	Kind       core.DataKind
	Resolution core.Resolution
}

func (k Key) String() string {
	return k.Symbol + "|" + string(k.Kind) + "|" + string(k.Resolution)
}

// QuoteKey returns the key of a symbol's quote.
func QuoteKey(symbol string) Key {
	return Key{Symbol: symbol, Kind: core.KindQuote}
}

// SeriesKey returns the key of a symbol's series at res.
func SeriesKey(symbol string, res core.Resolution) Key {
	return Key{Symbol: symbol, Kind: core.KindForResolution(res), Resolution: res}
}

// Policy controls freshness for one data kind.
type Policy struct {
	// TTL is how long an entry stays fresh.
	TTL time.Duration `mapstructure:"ttl"`

	// StaleWhileRevalidate serves expired entries younger than MaxStale
	// while one background refresh runs.
	StaleWhileRevalidate bool          `mapstructure:"stale_while_revalidate"`
	MaxStale             time.Duration `mapstructure:"max_stale"`
}

// DefaultPolicies returns the freshness policy of every data kind.
func DefaultPolicies() map[core.DataKind]Policy {
	return map[core.DataKind]Policy{
		core.KindQuote:          {TTL: 15 * time.Second, StaleWhileRevalidate: true, MaxStale: time.Minute},
		core.KindIntradaySeries: {TTL: time.Minute, StaleWhileRevalidate: true, MaxStale: 5 * time.Minute},
		core.KindDailySeries:    {TTL: 12 * time.Hour, StaleWhileRevalidate: true, MaxStale: 24 * time.Hour},
	}
}

// Entry is a cached value with its fetch time.
type Entry[V any] struct {
	Key       Key
	Value     V
	FetchedAt time.Time
}

type options struct {
	maxEntries int
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Registry
}

// Option configures a Cache.
type Option func(*options)

// WithMaxEntries bounds the cache size; the oldest entries are evicted first.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for background refresh failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics counts lookups by kind and state.
func WithMetrics(reg *metrics.Registry) Option {
	return func(o *options) { o.metrics = reg }
}

// Cache is a concurrency-safe cache of V values.
type Cache[V any] struct {
	mu       sync.RWMutex
	entries  map[Key]*Entry[V]
	policies map[core.DataKind]Policy
	group    singleflight.Group
	opts     options
}

// New creates a cache. Kinds missing from policies are never fresh.
func New[V any](policies map[core.DataKind]Policy, opts ...Option) *Cache[V] {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Cache[V]{
		entries:  make(map[Key]*Entry[V]),
		policies: policies,
		opts:     o,
	}
}

// Get returns the cached value and whether it is fresh, stale or missing.
func (c *Cache[V]) Get(key Key) (V, State) {
	v, state, _ := c.get(key)
	return v, state
}

func (c *Cache[V]) get(key Key) (V, State, time.Duration) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, Miss, 0
	}
	age := c.opts.now().Sub(e.FetchedAt)
	if age < c.policies[key.Kind].TTL {
		return e.Value, Fresh, age
	}
	return e.Value, Stale, age
}

// Put stores v unconditionally.
func (c *Cache[V]) Put(key Key, v V, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry[V]{Key: key, Value: v, FetchedAt: fetchedAt}
	if c.opts.maxEntries > 0 && len(c.entries) > c.opts.maxEntries {
		c.evictOldest()
	}
}

// evictOldest drops the entry with the earliest fetch time. Callers must
// hold c.mu.
func (c *Cache[V]) evictOldest() {
	var (
		oldest Key
		at     time.Time
		found  bool
	)
	for k, e := range c.entries {
		if !found || e.FetchedAt.Before(at) {
			oldest, at, found = k, e.FetchedAt, true
		}
	}
	delete(c.entries, oldest)
}

// Load returns a cached value or fetches it.
//
// A fresh entry is returned as is. A stale entry within its policy's
// MaxStale is returned immediately while a refresh runs in the background.
// Otherwise, or when force is set, the caller joins the single in-flight
// fetch for key. The fetch runs on a context detached from ctx so that one
// caller giving up does not cancel it for the others; ctx only bounds how
// long this caller waits.
func (c *Cache[V]) Load(ctx context.Context, key Key, force bool, fetch func(context.Context) (V, error)) (V, State, error) {
	if !force {
		v, state, age := c.get(key)
		c.opts.metrics.RecordCacheLookup(string(key.Kind), state.String())

		switch state {
		case Fresh:
			return v, Fresh, nil
		case Stale:
			if p := c.policies[key.Kind]; p.StaleWhileRevalidate && age < p.MaxStale {
				c.group.DoChan(key.String(), c.fetcher(ctx, key, fetch))
				return v, Stale, nil
			}
		}
	}

	ch := c.group.DoChan(key.String(), c.fetcher(ctx, key, fetch))
	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, Miss, res.Err
		}
		return res.Val.(V), Miss, nil
	case <-ctx.Done():
		var zero V
		return zero, Miss, ctx.Err()
	}
}

func (c *Cache[V]) fetcher(ctx context.Context, key Key, fetch func(context.Context) (V, error)) func() (any, error) {
	detached := context.WithoutCancel(ctx)
	return func() (any, error) {
		v, err := fetch(detached)
		if err != nil {
			c.opts.logger.Debug("cache fetch failed",
				zap.String("key", key.String()),
				zap.Error(err),
			)
			return nil, err
		}
		c.Put(key, v, c.opts.now())
		return v, nil
	}
}

// Entries returns a copy of every entry of kind.
func (c *Cache[V]) Entries(kind core.DataKind) []Entry[V] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry[V]
	for _, e := range c.entries {
		if e.Key.Kind == kind {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
