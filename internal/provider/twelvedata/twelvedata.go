// Package twelvedata implements the Twelve Data adapter.
package twelvedata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/provider"
)

const (
	baseURL = "https://api.twelvedata.com"

	// maxOutputSize is the largest outputsize /time_series accepts.
	maxOutputSize = 5000
)

// TwelveData implements provider.Adapter
type TwelveData struct {
	client  *provider.Client
	baseURL string
	apiKey  string
}

// New creates a Twelve Data adapter. An API key is required.
func New(cfg provider.Config) (*TwelveData, error) {
	if cfg.APIKey == "" {
		return nil, core.Errorf(core.ErrConfigMissing, "twelvedata api_key is required")
	}
	td := &TwelveData{
		client:  provider.NewClient(cfg.Timeout),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
	}
	if cfg.BaseURL != "" {
		td.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return td, nil
}

func (td *TwelveData) Name() string {
	return "twelvedata"
}

// Profile reflects the basic plan: 8 credits a minute, 800 a day.
func (td *TwelveData) Profile() provider.Profile {
	return provider.Profile{Priority: 20, PerMinute: 8, PerDay: 800}
}

// Supports reports true for equities, forex and crypto pairs alike.
func (td *TwelveData) Supports(kind core.DataKind, symbol string) bool {
	return true
}

// FetchQuote fetches the latest quote
func (td *TwelveData) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	params := url.Values{"symbol": {toTwelveSymbol(symbol)}}

	var result quoteResponse
	if err := td.get(ctx, "/quote", params, &result); err != nil {
		return nil, err
	}
	if err := result.apiError.err(symbol); err != nil {
		return nil, err
	}

	price, err := provider.ParsePrice(result.Close)
	if err != nil {
		return nil, err
	}

	q := &core.Quote{
		Symbol:   symbol,
		Price:    price,
		Volume:   provider.ParseVolume(result.Volume),
		Provider: td.Name(),
	}
	q.Open, _ = provider.ParsePrice(result.Open)
	q.High, _ = provider.ParsePrice(result.High)
	q.Low, _ = provider.ParsePrice(result.Low)
	q.PrevClose, _ = provider.ParsePrice(result.PreviousClose)
	if result.Timestamp > 0 {
		q.Time = time.Unix(result.Timestamp, 0)
	}
	return q, nil
}

// FetchSeries fetches bars from /time_series in UTC
func (td *TwelveData) FetchSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error) {
	if count > maxOutputSize {
		count = maxOutputSize
	}
	params := url.Values{
		"symbol":     {toTwelveSymbol(symbol)},
		"interval":   {toInterval(res)},
		"outputsize": {strconv.Itoa(count)},
		"timezone":   {"UTC"},
	}

	var result seriesResponse
	if err := td.get(ctx, "/time_series", params, &result); err != nil {
		return nil, err
	}
	if err := result.apiError.err(symbol); err != nil {
		return nil, err
	}

	series := &core.Series{
		Symbol:     symbol,
		Resolution: res,
		Points:     make([]core.Bar, 0, len(result.Values)),
		Provider:   td.Name(),
	}
	for _, v := range result.Values {
		ts, err := parseDatetime(v.Datetime)
		if err != nil {
			return nil, err
		}
		bar := core.Bar{Time: ts, Volume: provider.ParseVolume(v.Volume)}
		if bar.Open, err = provider.ParsePrice(v.Open); err != nil {
			return nil, err
		}
		if bar.High, err = provider.ParsePrice(v.High); err != nil {
			return nil, err
		}
		if bar.Low, err = provider.ParsePrice(v.Low); err != nil {
			return nil, err
		}
		if bar.Close, err = provider.ParsePrice(v.Close); err != nil {
			return nil, err
		}
		series.Points = append(series.Points, bar)
	}
	return series, nil
}

func (td *TwelveData) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("apikey", td.apiKey)
	return td.client.GetJSON(ctx, td.baseURL+path+"?"+params.Encode(), nil, out)
}

// apiError is the error envelope Twelve Data returns with HTTP 200.
type apiError struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e apiError) err(symbol string) error {
	if e.Status != "error" {
		return nil
	}
	switch e.Code {
	case 429:
		return core.Errorf(core.ErrRateLimited, "twelvedata: %s", e.Message)
	case 400, 404:
		return core.Errorf(core.ErrSymbolNotFound, "twelvedata: %s: %s", symbol, e.Message)
	default:
		return core.Errorf(core.ErrProviderFailed, "twelvedata: code %d: %s", e.Code, e.Message)
	}
}

type quoteResponse struct {
	apiError
	Symbol        string `json:"symbol"`
	Timestamp     int64  `json:"timestamp"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	PreviousClose string `json:"previous_close"`
}

type seriesResponse struct {
	apiError
	Values []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

func parseDatetime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, core.Errorf(core.ErrBadResponse, "twelvedata: datetime %q", s)
}

// toTwelveSymbol maps BTC-USD style pairs onto BTC/USD.
func toTwelveSymbol(symbol string) string {
	if i := strings.LastIndex(symbol, "-"); i > 0 && len(symbol)-i-1 >= 3 {
		return symbol[:i] + "/" + symbol[i+1:]
	}
	return symbol
}

func toInterval(res core.Resolution) string {
	switch res {
	case core.Res1m, core.Res5m, core.Res15m, core.Res30m:
		return fmt.Sprintf("%smin", strings.TrimSuffix(string(res), "m"))
	case core.Res1h:
		return "1h"
	default:
		return "1day"
	}
}
