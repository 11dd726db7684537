// Package alphavantage implements the Alpha Vantage adapter.
//
// Alpha Vantage answers throttled calls with HTTP 200 and a "Note" or
// "Information" field instead of a 429, so the adapter inspects every body
// and reports those as core.ErrRateLimited.
package alphavantage

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/provider"
)

const (
	baseURL = "https://www.alphavantage.co/query"

	// compactSize is how many bars outputsize=compact returns.
	compactSize = 100
)

// AlphaVantage implements provider.Adapter
type AlphaVantage struct {
	client  *provider.Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

// New creates an Alpha Vantage adapter. An API key is required.
func New(cfg provider.Config) (*AlphaVantage, error) {
	if cfg.APIKey == "" {
		return nil, core.Errorf(core.ErrConfigMissing, "alphavantage api_key is required")
	}
	av := &AlphaVantage{
		client:  provider.NewClient(cfg.Timeout),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		now:     time.Now,
	}
	if cfg.BaseURL != "" {
		av.baseURL = cfg.BaseURL
	}
	return av, nil
}

func (av *AlphaVantage) Name() string {
	return "alphavantage"
}

// Profile reflects the free tier: 5 calls a minute, 25 a day.
func (av *AlphaVantage) Profile() provider.Profile {
	return provider.Profile{Priority: 30, PerMinute: 5, PerDay: 25}
}

func (av *AlphaVantage) Supports(kind core.DataKind, symbol string) bool {
	return !strings.ContainsAny(symbol, "/-")
}

// FetchQuote fetches a GLOBAL_QUOTE
func (av *AlphaVantage) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	params := url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
	}

	body, err := av.query(ctx, params, symbol)
	if err != nil {
		return nil, err
	}

	var quote map[string]string
	if raw, ok := body["Global Quote"]; ok {
		if err := json.Unmarshal(raw, &quote); err != nil {
			return nil, core.Errorf(core.ErrBadResponse, "alphavantage: global quote: %v", err)
		}
	}
	if len(quote) == 0 {
		return nil, core.Errorf(core.ErrSymbolNotFound, "alphavantage: no quote data for %s", symbol)
	}

	price, err := provider.ParsePrice(quote["05. price"])
	if err != nil {
		return nil, err
	}

	q := &core.Quote{
		Symbol:   symbol,
		Price:    price,
		Volume:   provider.ParseVolume(quote["06. volume"]),
		Provider: av.Name(),
	}
	q.Open, _ = provider.ParsePrice(quote["02. open"])
	q.High, _ = provider.ParsePrice(quote["03. high"])
	q.Low, _ = provider.ParsePrice(quote["04. low"])
	q.PrevClose, _ = provider.ParsePrice(quote["08. previous close"])
	// GLOBAL_QUOTE only carries a trading day, so the receipt time is used.
	return q, nil
}

// FetchSeries fetches TIME_SERIES_INTRADAY or TIME_SERIES_DAILY
func (av *AlphaVantage) FetchSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error) {
	params := url.Values{"symbol": {symbol}}
	if count > compactSize {
		params.Set("outputsize", "full")
	} else {
		params.Set("outputsize", "compact")
	}

	var seriesKey, layout string
	if res == core.Res1Day {
		params.Set("function", "TIME_SERIES_DAILY")
		seriesKey, layout = "Time Series (Daily)", "2006-01-02"
	} else {
		interval := toInterval(res)
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", interval)
		seriesKey, layout = "Time Series ("+interval+")", "2006-01-02 15:04:05"
	}

	body, err := av.query(ctx, params, symbol)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if raw, ok := body["Meta Data"]; ok {
		var meta map[string]string
		if err := json.Unmarshal(raw, &meta); err == nil {
			for k, v := range meta {
				if strings.HasSuffix(k, "Time Zone") {
					if l, err := time.LoadLocation(v); err == nil {
						loc = l
					}
				}
			}
		}
	}

	raw, ok := body[seriesKey]
	if !ok {
		return nil, core.Errorf(core.ErrSymbolNotFound, "alphavantage: no %q for %s", seriesKey, symbol)
	}
	var points map[string]map[string]string
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, core.Errorf(core.ErrBadResponse, "alphavantage: series: %v", err)
	}

	series := &core.Series{
		Symbol:     symbol,
		Resolution: res,
		Points:     make([]core.Bar, 0, len(points)),
		Provider:   av.Name(),
	}
	for stamp, p := range points {
		ts, err := time.ParseInLocation(layout, stamp, loc)
		if err != nil {
			return nil, core.Errorf(core.ErrBadResponse, "alphavantage: timestamp %q", stamp)
		}
		bar := core.Bar{Time: ts, Volume: provider.ParseVolume(p["5. volume"])}
		if bar.Open, err = provider.ParsePrice(p["1. open"]); err != nil {
			return nil, err
		}
		if bar.High, err = provider.ParsePrice(p["2. high"]); err != nil {
			return nil, err
		}
		if bar.Low, err = provider.ParsePrice(p["3. low"]); err != nil {
			return nil, err
		}
		if bar.Close, err = provider.ParsePrice(p["4. close"]); err != nil {
			return nil, err
		}
		series.Points = append(series.Points, bar)
	}
	return series, nil
}

// query runs one API call and converts in-body throttling and error
// messages into typed errors.
func (av *AlphaVantage) query(ctx context.Context, params url.Values, symbol string) (map[string]json.RawMessage, error) {
	params.Set("apikey", av.apiKey)
	u := av.baseURL + "?" + params.Encode()

	var body map[string]json.RawMessage
	if err := av.client.GetJSON(ctx, u, nil, &body); err != nil {
		return nil, err
	}

	for _, key := range []string{"Note", "Information"} {
		if raw, ok := body[key]; ok {
			return nil, core.Errorf(core.ErrRateLimited, "alphavantage: %s", unquote(raw))
		}
	}
	if raw, ok := body["Error Message"]; ok {
		return nil, core.Errorf(core.ErrSymbolNotFound, "alphavantage: %s: %s", symbol, unquote(raw))
	}
	return body, nil
}

func unquote(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

func toInterval(res core.Resolution) string {
	switch res {
	case core.Res1m:
		return "1min"
	case core.Res5m:
		return "5min"
	case core.Res15m:
		return "15min"
	case core.Res30m:
		return "30min"
	default:
		return "60min"
	}
}
