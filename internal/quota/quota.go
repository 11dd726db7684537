// Package quota tracks per-provider call budgets over minute and day windows.
//
// Counters are advisory: Reserve answers whether a provider still has budget
// and Commit records a call that was actually dispatched. Windows roll over
// lazily on the first read after they expire.
package quota

import (
	"sort"
	"sync"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/metrics"
)

var windows = []core.Window{core.WindowMinute, core.WindowDay}

type counter struct {
	used  int
	limit int
	start time.Time
}

// Tracker holds quota counters for every registered provider.
type Tracker struct {
	mu       sync.Mutex
	counters map[string]map[core.Window]*counter
	now      func() time.Time
	metrics  *metrics.Registry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMetrics publishes used counts to reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(t *Tracker) { t.metrics = reg }
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		counters: make(map[string]map[core.Window]*counter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetLimits registers a provider. A limit of 0 leaves that window unlimited.
func (t *Tracker) SetLimits(provider string, perMinute, perDay int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	c, ok := t.counters[provider]
	if !ok {
		c = map[core.Window]*counter{
			core.WindowMinute: {start: now},
			core.WindowDay:    {start: now},
		}
		t.counters[provider] = c
	}
	c[core.WindowMinute].limit = perMinute
	c[core.WindowDay].limit = perDay
}

// Reserve reports whether provider has budget left in window. It does not
// consume budget. Unknown providers are treated as unlimited.
func (t *Tracker) Reserve(provider string, w core.Window) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counter(provider, w)
	if c == nil {
		return true
	}
	return c.limit <= 0 || c.used < c.limit
}

// Available reports whether provider has budget in every window.
func (t *Tracker) Available(provider string) bool {
	for _, w := range windows {
		if !t.Reserve(provider, w) {
			return false
		}
	}
	return true
}

// Commit counts one dispatched call against every window of provider.
func (t *Tracker) Commit(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, w := range windows {
		c := t.counter(provider, w)
		if c == nil {
			c = &counter{start: t.now()}
			if t.counters[provider] == nil {
				t.counters[provider] = make(map[core.Window]*counter)
			}
			t.counters[provider][w] = c
		}
		c.used++
		t.metrics.SetQuotaUsed(provider, string(w), c.used)
	}
}

// Snapshot returns the state of every window, sorted by provider then window.
func (t *Tracker) Snapshot() []core.QuotaState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]core.QuotaState, 0, len(t.counters)*len(windows))
	for provider := range t.counters {
		for _, w := range windows {
			c := t.counter(provider, w)
			if c == nil {
				continue
			}
			out = append(out, core.QuotaState{
				Provider:    provider,
				Window:      w,
				Used:        c.used,
				Limit:       c.limit,
				WindowStart: c.start,
				ResetAt:     c.start.Add(w.Length()),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Window.Length() < out[j].Window.Length()
	})
	return out
}

// counter returns the window counter after applying lazy rollover.
// Callers must hold t.mu.
func (t *Tracker) counter(provider string, w core.Window) *counter {
	c := t.counters[provider][w]
	if c == nil {
		return nil
	}
	if now := t.now(); now.Sub(c.start) >= w.Length() {
		c.used = 0
		c.start = now
		t.metrics.SetQuotaUsed(provider, string(w), 0)
	}
	return c
}
