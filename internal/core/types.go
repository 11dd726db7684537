package core

import (
	"fmt"
	"sort"
	"time"
)

// Quote is a normalized real-time price quote.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Open      float64   `json:"open,omitempty"`
	High      float64   `json:"high,omitempty"`
	Low       float64   `json:"low,omitempty"`
	PrevClose float64   `json:"prev_close,omitempty"`
	Volume    int64     `json:"volume,omitempty"`
	Time      time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
}

// IsValid checks if the quote has required fields
func (q Quote) IsValid() bool {
	return q.Symbol != "" && q.Price > 0
}

// Stamp fills a missing timestamp with the receipt time and clamps
// provider clocks that run ahead of ours.
func (q *Quote) Stamp(now time.Time) {
	if q.Time.IsZero() || q.Time.After(now) {
		q.Time = now
	}
}

// Resolution is the bar width of a historical series.
type Resolution string

const (
	Res1m   Resolution = "1m"
	Res5m   Resolution = "5m"
	Res15m  Resolution = "15m"
	Res30m  Resolution = "30m"
	Res1h   Resolution = "1h"
	Res1Day Resolution = "1day"
)

var resolutions = []Resolution{Res1m, Res5m, Res15m, Res30m, Res1h, Res1Day}

// Resolutions returns every supported resolution, finest first.
func Resolutions() []Resolution {
	out := make([]Resolution, len(resolutions))
	copy(out, resolutions)
	return out
}

// ParseResolution accepts the canonical names plus "1d" for daily bars.
func ParseResolution(s string) (Resolution, error) {
	if s == "1d" || s == "D" {
		return Res1Day, nil
	}
	for _, r := range resolutions {
		if string(r) == s {
			return r, nil
		}
	}
	return "", Errorf(ErrInvalidRequest, "unknown resolution %q", s)
}

// Duration is the width of one bar.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Res1m:
		return time.Minute
	case Res5m:
		return 5 * time.Minute
	case Res15m:
		return 15 * time.Minute
	case Res30m:
		return 30 * time.Minute
	case Res1h:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Bar represents a candlestick/bar
type Bar struct {
	Time   time.Time `json:"timestamp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Series is an ordered run of bars for one symbol and resolution.
type Series struct {
	Symbol     string     `json:"symbol"`
	Resolution Resolution `json:"resolution"`
	Points     []Bar      `json:"points"`
	Provider   string     `json:"provider"`
}

// Normalize sorts points by time, keeps the last bar seen for any duplicate
// timestamp and trims to the most recent count points (count <= 0 keeps all).
func (s *Series) Normalize(count int) {
	sort.SliceStable(s.Points, func(i, j int) bool {
		return s.Points[i].Time.Before(s.Points[j].Time)
	})

	out := s.Points[:0]
	for _, p := range s.Points {
		if n := len(out); n > 0 && out[n-1].Time.Equal(p.Time) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	if count > 0 && len(out) > count {
		out = out[len(out)-count:]
	}
	s.Points = out
}

// DataKind selects the cache freshness policy for a value.
type DataKind string

const (
	KindQuote          DataKind = "quote"
	KindIntradaySeries DataKind = "series_intraday"
	KindDailySeries    DataKind = "series_daily"
)

// KindForResolution maps a series resolution to its data kind.
func KindForResolution(r Resolution) DataKind {
	if r == Res1Day {
		return KindDailySeries
	}
	return KindIntradaySeries
}

// Window is a quota accounting period.
type Window string

const (
	WindowMinute Window = "minute"
	WindowDay    Window = "day"
)

// Length returns the window duration.
func (w Window) Length() time.Duration {
	if w == WindowDay {
		return 24 * time.Hour
	}
	return time.Minute
}

// QuotaState is a point-in-time view of one provider window.
type QuotaState struct {
	Provider    string    `json:"provider"`
	Window      Window    `json:"window"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	WindowStart time.Time `json:"window_start"`
	ResetAt     time.Time `json:"window_reset_at"`
}

// Remaining reports unused calls; -1 means unlimited.
func (s QuotaState) Remaining() int {
	if s.Limit <= 0 {
		return -1
	}
	if s.Used >= s.Limit {
		return 0
	}
	return s.Limit - s.Used
}

// GlobalBackoff is the provider id used for the cross-provider cooldown.
const GlobalBackoff = "global"

// BackoffState is a point-in-time view of one cooldown.
type BackoffState struct {
	Provider       string    `json:"provider"`
	Consecutive429 int       `json:"consecutive_429"`
	CooldownUntil  time.Time `json:"cooldown_until"`
}

// Active reports whether the cooldown is still running at now.
func (b BackoffState) Active(now time.Time) bool {
	return now.Before(b.CooldownUntil)
}

func (b BackoffState) String() string {
	return fmt.Sprintf("%s(429s=%d until=%s)", b.Provider, b.Consecutive429, b.CooldownUntil.Format(time.RFC3339))
}
