// Package binance implements the keyless Binance spot market adapter.
package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/provider"
)

const (
	baseURL = "https://api.binance.com"

	// maxKlines is the largest limit /api/v3/klines accepts.
	maxKlines = 1000

	// errInvalidSymbol is Binance's error code for unknown pairs.
	errInvalidSymbol = -1121
)

// Binance implements provider.Adapter for crypto pairs only
type Binance struct {
	client  *provider.Client
	baseURL string
}

// New creates a Binance adapter. No API key is needed for market data.
func New(cfg provider.Config) *Binance {
	b := &Binance{
		client:  provider.NewClient(cfg.Timeout),
		baseURL: baseURL,
	}
	if cfg.BaseURL != "" {
		b.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return b
}

func (b *Binance) Name() string {
	return "binance"
}

// Profile uses Binance's request weight budget of 1200 a minute.
func (b *Binance) Profile() provider.Profile {
	return provider.Profile{Priority: 50, PerMinute: 1200}
}

func (b *Binance) Supports(kind core.DataKind, symbol string) bool {
	_, ok := toPair(symbol)
	return ok
}

// FetchQuote fetches the rolling 24h ticker
func (b *Binance) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	pair, ok := toPair(symbol)
	if !ok {
		return nil, core.Errorf(core.ErrUnsupported, "binance: %s is not a crypto pair", symbol)
	}

	var result ticker24hr
	if err := b.get(ctx, "/api/v3/ticker/24hr", url.Values{"symbol": {pair}}, &result); err != nil {
		return nil, err
	}

	price, err := provider.ParsePrice(result.LastPrice)
	if err != nil {
		return nil, err
	}

	q := &core.Quote{
		Symbol:   symbol,
		Price:    price,
		Volume:   provider.ParseVolume(result.Volume),
		Provider: b.Name(),
	}
	q.Open, _ = provider.ParsePrice(result.OpenPrice)
	q.High, _ = provider.ParsePrice(result.HighPrice)
	q.Low, _ = provider.ParsePrice(result.LowPrice)
	q.PrevClose, _ = provider.ParsePrice(result.PrevClosePrice)
	if result.CloseTime > 0 {
		q.Time = time.UnixMilli(result.CloseTime)
	}
	return q, nil
}

// FetchSeries fetches klines, most recent count bars
func (b *Binance) FetchSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error) {
	pair, ok := toPair(symbol)
	if !ok {
		return nil, core.Errorf(core.ErrUnsupported, "binance: %s is not a crypto pair", symbol)
	}
	if count <= 0 || count > maxKlines {
		count = maxKlines
	}

	params := url.Values{
		"symbol":   {pair},
		"interval": {toInterval(res)},
		"limit":    {strconv.Itoa(count)},
	}
	var klines [][]any
	if err := b.get(ctx, "/api/v3/klines", params, &klines); err != nil {
		return nil, err
	}

	series := &core.Series{
		Symbol:     symbol,
		Resolution: res,
		Points:     make([]core.Bar, 0, len(klines)),
		Provider:   b.Name(),
	}
	for _, k := range klines {
		if len(k) < 6 {
			return nil, core.Errorf(core.ErrBadResponse, "binance: kline has %d fields", len(k))
		}

		openTime, _ := k[0].(float64)
		bar := core.Bar{Time: time.UnixMilli(int64(openTime))}

		fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close}
		for i, dst := range fields {
			s, _ := k[i+1].(string)
			v, err := provider.ParsePrice(s)
			if err != nil {
				return nil, err
			}
			*dst = v
		}
		volume, _ := k[5].(string)
		bar.Volume = provider.ParseVolume(volume)

		series.Points = append(series.Points, bar)
	}
	return series, nil
}

// get issues a request and decodes Binance's {code,msg} error bodies, which
// arrive as 4xx responses.
func (b *Binance) get(ctx context.Context, path string, params url.Values, out any) error {
	u := b.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return core.Errorf(core.ErrProviderFailed, "creating request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.HTTP.Do(req)
	if err != nil {
		return provider.Classify(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadRequest:
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Code == errInvalidSymbol {
			return core.Errorf(core.ErrSymbolNotFound, "binance: %s", params.Get("symbol"))
		}
		return core.Errorf(core.ErrProviderFailed, "binance: bad request %d: %s", apiErr.Code, apiErr.Msg)
	case http.StatusTeapot:
		// 418 means the IP is banned after ignoring 429s.
		return core.Errorf(core.ErrRateLimited, "binance: IP banned")
	}
	if err := provider.CheckStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.Errorf(core.ErrBadResponse, "binance: decoding response: %v", err)
	}
	return nil
}

func toInterval(res core.Resolution) string {
	if res == core.Res1Day {
		return "1d"
	}
	return string(res)
}

// Binance API response types
type ticker24hr struct {
	Symbol         string `json:"symbol"`
	LastPrice      string `json:"lastPrice"`
	OpenPrice      string `json:"openPrice"`
	HighPrice      string `json:"highPrice"`
	LowPrice       string `json:"lowPrice"`
	Volume         string `json:"volume"`
	PrevClosePrice string `json:"prevClosePrice"`
	CloseTime      int64  `json:"closeTime"`
}
