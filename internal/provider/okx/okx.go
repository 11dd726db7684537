// Package okx implements the keyless OKX spot market adapter.
package okx

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/provider"
)

const (
	baseURL = "https://www.okx.com"

	// maxCandles is the largest limit /api/v5/market/candles accepts.
	maxCandles = 300

	codeOK              = "0"
	codeUnknownInstID   = "51001"
	codeTooManyRequests = "50011"
)

var quoteCurrencies = []string{"USDT", "USDC", "BTC", "ETH"}

// OKX implements provider.Adapter for crypto pairs only
type OKX struct {
	client  *provider.Client
	baseURL string
}

// New creates an OKX adapter
func New(cfg provider.Config) *OKX {
	o := &OKX{
		client:  provider.NewClient(cfg.Timeout),
		baseURL: baseURL,
	}
	if cfg.BaseURL != "" {
		o.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return o
}

func (o *OKX) Name() string {
	return "okx"
}

// Profile stays under the public ticker limit of 20 requests per 2 seconds.
func (o *OKX) Profile() provider.Profile {
	return provider.Profile{Priority: 55, PerMinute: 600}
}

func (o *OKX) Supports(kind core.DataKind, symbol string) bool {
	_, ok := toInstID(symbol)
	return ok
}

// FetchQuote fetches the 24h ticker
func (o *OKX) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	instID, ok := toInstID(symbol)
	if !ok {
		return nil, core.Errorf(core.ErrUnsupported, "okx: %s is not a crypto pair", symbol)
	}

	var result tickerResponse
	if err := o.get(ctx, "/api/v5/market/ticker", url.Values{"instId": {instID}}, &result.envelope, &result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, core.Errorf(core.ErrSymbolNotFound, "okx: no ticker for %s", instID)
	}

	data := result.Data[0]
	price, err := provider.ParsePrice(data.Last)
	if err != nil {
		return nil, err
	}
	q := &core.Quote{
		Symbol:   symbol,
		Price:    price,
		Volume:   provider.ParseVolume(data.Vol24h),
		Provider: o.Name(),
	}
	q.Open, _ = provider.ParsePrice(data.Open24h)
	q.High, _ = provider.ParsePrice(data.High24h)
	q.Low, _ = provider.ParsePrice(data.Low24h)
	if ts, err := strconv.ParseInt(data.Ts, 10, 64); err == nil && ts > 0 {
		q.Time = time.UnixMilli(ts)
	}
	return q, nil
}

// FetchSeries fetches the most recent count candles
func (o *OKX) FetchSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error) {
	instID, ok := toInstID(symbol)
	if !ok {
		return nil, core.Errorf(core.ErrUnsupported, "okx: %s is not a crypto pair", symbol)
	}
	if count <= 0 || count > maxCandles {
		count = maxCandles
	}

	params := url.Values{
		"instId": {instID},
		"bar":    {toBar(res)},
		"limit":  {strconv.Itoa(count)},
	}
	var result candleResponse
	if err := o.get(ctx, "/api/v5/market/candles", params, &result.envelope, &result); err != nil {
		return nil, err
	}

	series := &core.Series{
		Symbol:     symbol,
		Resolution: res,
		Points:     make([]core.Bar, 0, len(result.Data)),
		Provider:   o.Name(),
	}
	// Newest first on the wire; the router sorts.
	for _, c := range result.Data {
		if len(c) < 6 {
			return nil, core.Errorf(core.ErrBadResponse, "okx: candle has %d fields", len(c))
		}
		ts, err := strconv.ParseInt(c[0], 10, 64)
		if err != nil {
			return nil, core.Errorf(core.ErrBadResponse, "okx: bad candle time %q", c[0])
		}
		bar := core.Bar{Time: time.UnixMilli(ts), Volume: provider.ParseVolume(c[5])}
		for i, dst := range []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close} {
			if *dst, err = provider.ParsePrice(c[i+1]); err != nil {
				return nil, err
			}
		}
		series.Points = append(series.Points, bar)
	}
	return series, nil
}

// get decodes the response into out and maps OKX's in-body error codes.
func (o *OKX) get(ctx context.Context, path string, params url.Values, env *envelope, out any) error {
	if err := o.client.GetJSON(ctx, o.baseURL+path+"?"+params.Encode(), nil, out); err != nil {
		return err
	}
	switch env.Code {
	case codeOK:
		return nil
	case codeUnknownInstID:
		return core.Errorf(core.ErrSymbolNotFound, "okx: %s", env.Msg)
	case codeTooManyRequests:
		return core.Errorf(core.ErrRateLimited, "okx: %s", env.Msg)
	default:
		return core.Errorf(core.ErrProviderFailed, "okx error %s: %s", env.Code, env.Msg)
	}
}

// toInstID converts BTC-USD, BTC/USDT or BTCUSDT into OKX's BTC-USDT form.
func toInstID(symbol string) (string, bool) {
	s := strings.ToUpper(symbol)

	base, quote := "", ""
	if i := strings.IndexAny(s, "/-"); i > 0 {
		base, quote = s[:i], s[i+1:]
		if quote == "USD" {
			quote = "USDT"
		}
	} else {
		for _, q := range quoteCurrencies {
			if strings.HasSuffix(s, q) && len(s) > len(q) {
				base, quote = strings.TrimSuffix(s, q), q
				break
			}
		}
	}

	for _, q := range quoteCurrencies {
		if q == quote && base != "" {
			return base + "-" + quote, true
		}
	}
	return "", false
}

func toBar(res core.Resolution) string {
	switch res {
	case core.Res1h:
		return "1H"
	case core.Res1Day:
		return "1Dutc"
	default:
		return string(res)
	}
}

// OKX API response types
type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type tickerResponse struct {
	envelope
	Data []ticker `json:"data"`
}

type ticker struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	Vol24h  string `json:"vol24h"`
	Ts      string `json:"ts"`
}

type candleResponse struct {
	envelope
	Data [][]string `json:"data"`
}
