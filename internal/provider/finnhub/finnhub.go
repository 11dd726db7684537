// Package finnhub implements the Finnhub quote and candle adapter.
package finnhub

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/provider"
)

const (
	baseURL = "https://finnhub.io/api/v1"
)

// Finnhub implements provider.Adapter
type Finnhub struct {
	client  *provider.Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

// New creates a Finnhub adapter. An API key is required.
func New(cfg provider.Config) (*Finnhub, error) {
	if cfg.APIKey == "" {
		return nil, core.Errorf(core.ErrConfigMissing, "finnhub api_key is required")
	}
	f := &Finnhub{
		client:  provider.NewClient(cfg.Timeout),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		now:     time.Now,
	}
	if cfg.BaseURL != "" {
		f.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return f, nil
}

func (f *Finnhub) Name() string {
	return "finnhub"
}

func (f *Finnhub) Profile() provider.Profile {
	return provider.Profile{Priority: 10, PerMinute: 60}
}

func (f *Finnhub) Supports(kind core.DataKind, symbol string) bool {
	return !strings.Contains(symbol, "/")
}

func (f *Finnhub) headers() map[string]string {
	return map[string]string{"X-Finnhub-Token": f.apiKey}
}

// FetchQuote fetches real-time quote
func (f *Finnhub) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s", f.baseURL, url.QueryEscape(symbol))

	var result quoteResponse
	if err := f.client.GetJSON(ctx, u, f.headers(), &result); err != nil {
		return nil, err
	}

	// Unknown symbols come back as an all-zero payload.
	if result.Current == 0 && result.Timestamp == 0 {
		return nil, core.Errorf(core.ErrSymbolNotFound, "finnhub: no quote for %s", symbol)
	}
	if result.Current < 0 {
		return nil, core.Errorf(core.ErrBadResponse, "finnhub: negative price %f for %s", result.Current, symbol)
	}

	q := &core.Quote{
		Symbol:    symbol,
		Price:     result.Current,
		Open:      result.Open,
		High:      result.High,
		Low:       result.Low,
		PrevClose: result.PrevClose,
		Provider:  f.Name(),
	}
	if result.Timestamp > 0 {
		q.Time = time.Unix(result.Timestamp, 0)
	}
	return q, nil
}

// FetchSeries fetches candles
func (f *Finnhub) FetchSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error) {
	from, to := provider.SeriesWindow(f.now(), res, count)
	u := fmt.Sprintf("%s/stock/candle?symbol=%s&resolution=%s&from=%d&to=%d",
		f.baseURL, url.QueryEscape(symbol), toResolution(res), from.Unix(), to.Unix())

	var result candleResponse
	if err := f.client.GetJSON(ctx, u, f.headers(), &result); err != nil {
		return nil, err
	}

	switch result.Status {
	case "ok":
	case "no_data":
		return nil, core.Errorf(core.ErrSymbolNotFound, "finnhub: no candles for %s", symbol)
	default:
		return nil, core.Errorf(core.ErrBadResponse, "finnhub: candle status %q", result.Status)
	}

	n := len(result.Time)
	if len(result.Open) != n || len(result.High) != n || len(result.Low) != n || len(result.Close) != n {
		return nil, core.Errorf(core.ErrBadResponse, "finnhub: ragged candle arrays for %s", symbol)
	}

	series := &core.Series{
		Symbol:     symbol,
		Resolution: res,
		Points:     make([]core.Bar, 0, n),
		Provider:   f.Name(),
	}
	for i, ts := range result.Time {
		bar := core.Bar{
			Time:  time.Unix(ts, 0),
			Open:  result.Open[i],
			High:  result.High[i],
			Low:   result.Low[i],
			Close: result.Close[i],
		}
		if i < len(result.Volume) {
			bar.Volume = int64(result.Volume[i])
		}
		series.Points = append(series.Points, bar)
	}
	return series, nil
}

func toResolution(res core.Resolution) string {
	switch res {
	case core.Res1m:
		return "1"
	case core.Res5m:
		return "5"
	case core.Res15m:
		return "15"
	case core.Res30m:
		return "30"
	case core.Res1h:
		return "60"
	default:
		return "D"
	}
}

// Finnhub API response types
type quoteResponse struct {
	Current   float64 `json:"c"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Open      float64 `json:"o"`
	PrevClose float64 `json:"pc"`
	Timestamp int64   `json:"t"`
}

type candleResponse struct {
	Status string    `json:"s"`
	Time   []int64   `json:"t"`
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
}
