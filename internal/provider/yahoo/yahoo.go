package yahoo

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
	baseURL = "https://query1.finance.yahoo.com"
)

// Yahoo implements the Yahoo Finance chart adapter. It needs no API key.
type Yahoo struct {
	client  *provider.Client
	baseURL string
	now     func() time.Time
}

// New creates a new Yahoo adapter
func New(cfg provider.Config) *Yahoo {
	y := &Yahoo{
		client:  provider.NewClient(cfg.Timeout),
		baseURL: baseURL,
		now:     time.Now,
	}
	// Yahoo rejects requests without a browser-like agent.
	y.client.UserAgent = "Mozilla/5.0 (compatible; marketgate/1.0)"
	if cfg.BaseURL != "" {
		y.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return y
}

func (y *Yahoo) Name() string {
	return "yahoo"
}

func (y *Yahoo) Profile() provider.Profile {
	return provider.Profile{Priority: 40, PerMinute: 60, PerDay: 2000}
}

func (y *Yahoo) Supports(kind core.DataKind, symbol string) bool {
	// Slash pairs (EUR/USD) have no Yahoo chart; dashes (BTC-USD) do.
	return !strings.Contains(symbol, "/")
}

// toYahooSymbol converts internal symbol format to Yahoo format
func (y *Yahoo) toYahooSymbol(symbol string) string {
	// Shanghai stocks: 600519.SH -> 600519.SS
	if strings.HasSuffix(symbol, ".SH") {
		return strings.TrimSuffix(symbol, ".SH") + ".SS"
	}
	return symbol
}

// FetchQuote fetches real-time quote
func (y *Yahoo) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d",
		y.baseURL, url.PathEscape(y.toYahooSymbol(symbol)))

	r, err := y.chart(ctx, u, symbol)
	if err != nil {
		return nil, err
	}

	meta := r.Meta
	if meta.RegularMarketPrice <= 0 {
		return nil, core.Errorf(core.ErrBadResponse, "yahoo: no price for %s", symbol)
	}

	q := &core.Quote{
		Symbol:    symbol,
		Price:     meta.RegularMarketPrice,
		High:      meta.RegularMarketDayHigh,
		Low:       meta.RegularMarketDayLow,
		PrevClose: meta.ChartPreviousClose,
		Volume:    int64(meta.RegularMarketVolume),
		Provider:  y.Name(),
	}
	if meta.RegularMarketTime > 0 {
		q.Time = time.Unix(meta.RegularMarketTime, 0)
	}
	return q, nil
}

// FetchSeries fetches historical OHLCV data
func (y *Yahoo) FetchSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error) {
	from, to := provider.SeriesWindow(y.now(), res, count)
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&period1=%d&period2=%d",
		y.baseURL, url.PathEscape(y.toYahooSymbol(symbol)), toYahooInterval(res), from.Unix(), to.Unix())

	r, err := y.chart(ctx, u, symbol)
	if err != nil {
		return nil, err
	}
	if len(r.Indicators.Quote) == 0 {
		return nil, core.Errorf(core.ErrBadResponse, "yahoo: no indicators for %s", symbol)
	}
	quotes := r.Indicators.Quote[0]
	n := len(r.Timestamp)
	if len(quotes.Open) < n || len(quotes.High) < n || len(quotes.Low) < n || len(quotes.Close) < n {
		return nil, core.Errorf(core.ErrBadResponse, "yahoo: ragged indicator arrays for %s", symbol)
	}

	series := &core.Series{
		Symbol:     symbol,
		Resolution: res,
		Points:     make([]core.Bar, 0, n),
		Provider:   y.Name(),
	}
	for i, ts := range r.Timestamp {
		if quotes.Open[i] == nil || quotes.High[i] == nil || quotes.Low[i] == nil || quotes.Close[i] == nil {
			continue // Skip missing data
		}
		var volume int64
		if i < len(quotes.Volume) && quotes.Volume[i] != nil {
			volume = *quotes.Volume[i]
		}
		series.Points = append(series.Points, core.Bar{
			Time:   time.Unix(ts, 0),
			Open:   *quotes.Open[i],
			High:   *quotes.High[i],
			Low:    *quotes.Low[i],
			Close:  *quotes.Close[i],
			Volume: volume,
		})
	}
	return series, nil
}

func (y *Yahoo) chart(ctx context.Context, u, symbol string) (*chartResult, error) {
	var result chartResponse
	if err := y.client.GetJSON(ctx, u, nil, &result); err != nil {
		return nil, err
	}
	if result.Chart.Error != nil {
		if result.Chart.Error.Code == "Not Found" {
			return nil, core.Errorf(core.ErrSymbolNotFound, "yahoo: %s", result.Chart.Error.Description)
		}
		return nil, core.Errorf(core.ErrProviderFailed, "yahoo: %s", result.Chart.Error.Description)
	}
	if len(result.Chart.Result) == 0 {
		return nil, core.Errorf(core.ErrSymbolNotFound, "yahoo: no data for symbol %s", symbol)
	}
	return &result.Chart.Result[0], nil
}

func toYahooInterval(res core.Resolution) string {
	switch res {
	case core.Res1m, core.Res5m, core.Res15m, core.Res30m:
		return string(res)
	case core.Res1h:
		return "60m"
	default:
		return "1d"
	}
}

// Yahoo API response types
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta       chartMeta  `json:"meta"`
	Timestamp  []int64    `json:"timestamp"`
	Indicators indicators `json:"indicators"`
}

type chartMeta struct {
	Symbol               string  `json:"symbol"`
	RegularMarketPrice   float64 `json:"regularMarketPrice"`
	RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
	ChartPreviousClose   float64 `json:"chartPreviousClose"`
	RegularMarketVolume  float64 `json:"regularMarketVolume"`
	RegularMarketTime    int64   `json:"regularMarketTime"`
}

type indicators struct {
	Quote []quoteIndicator `json:"quote"`
}

type quoteIndicator struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}
