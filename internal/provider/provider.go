package provider

import (
	"context"
	"time"

	"github.com/newthinker/marketgate/internal/core"
)

//go:generate mockgen -source=provider.go -destination=mocks/mock_adapter.go -package=mocks

// Profile holds the routing parameters an adapter declares for itself.
// Lower Priority is preferred. A zero limit means the window is unlimited.
type Profile struct {
	Priority  int
	PerMinute int
	PerDay    int
	Timeout   time.Duration
}

// Limit returns the configured limit for a quota window.
func (p Profile) Limit(w core.Window) int {
	if w == core.WindowDay {
		return p.PerDay
	}
	return p.PerMinute
}

// Config holds adapter configuration
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Adapter defines the interface for upstream market data providers.
//
// Expected upstream failures come back as *core.Error values:
// core.ErrRateLimited, core.ErrBadResponse, core.ErrTimeout,
// core.ErrSymbolNotFound or core.ErrProviderFailed.
type Adapter interface {
	// Metadata
	Name() string
	Profile() Profile
	Supports(kind core.DataKind, symbol string) bool

	// Data fetching
	FetchQuote(ctx context.Context, symbol string) (*core.Quote, error)
	FetchSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error)
}

// WithProfile overrides the non-zero fields of an adapter's declared profile.
func WithProfile(a Adapter, override Profile) Adapter {
	p := a.Profile()
	if override.Priority != 0 {
		p.Priority = override.Priority
	}
	if override.PerMinute != 0 {
		p.PerMinute = override.PerMinute
	}
	if override.PerDay != 0 {
		p.PerDay = override.PerDay
	}
	if override.Timeout != 0 {
		p.Timeout = override.Timeout
	}
	if p == a.Profile() {
		return a
	}
	return &profiled{Adapter: a, profile: p}
}

type profiled struct {
	Adapter
	profile Profile
}

func (p *profiled) Profile() Profile { return p.profile }

// SeriesWindow returns the [from, to] range covering count bars of res
// ending at now, padded for weekends and session gaps.
func SeriesWindow(now time.Time, res core.Resolution, count int) (time.Time, time.Time) {
	span := time.Duration(count) * res.Duration()
	if res == core.Res1Day {
		span = span*7/5 + 4*24*time.Hour
	} else {
		// Intraday sessions cover roughly a quarter of the day.
		span = span*4 + 3*24*time.Hour
	}
	return now.Add(-span), now
}
