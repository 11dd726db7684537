// Package coingecko implements a quote-only CoinGecko adapter, used as the
// last crypto fallback.
package coingecko

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/provider"
)

const baseURL = "https://api.coingecko.com/api/v3"

// CoinGecko keys coins by id, not ticker.
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"BNB":  "binancecoin",
	"SOL":  "solana",
	"XRP":  "ripple",
	"DOGE": "dogecoin",
	"ADA":  "cardano",
	"AVAX": "avalanche-2",
	"DOT":  "polkadot",
	"LINK": "chainlink",
	"UNI":  "uniswap",
	"ATOM": "cosmos",
	"LTC":  "litecoin",
	"ETC":  "ethereum-classic",
	"XLM":  "stellar",
	"NEAR": "near",
	"AAVE": "aave",
	"ARB":  "arbitrum",
	"OP":   "optimism",
}

var vsCurrencies = map[string]string{
	"USD":  "usd",
	"USDT": "usd",
	"USDC": "usd",
	"EUR":  "eur",
	"BTC":  "btc",
	"ETH":  "eth",
}

// CoinGecko implements provider.Adapter for quotes of well-known coins
type CoinGecko struct {
	client  *provider.Client
	baseURL string
	apiKey  string
}

// New creates a CoinGecko adapter. The API key is optional and sent as a
// demo key when set.
func New(cfg provider.Config) *CoinGecko {
	c := &CoinGecko{
		client:  provider.NewClient(cfg.Timeout),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return c
}

func (c *CoinGecko) Name() string {
	return "coingecko"
}

// Profile matches the public tier's 30 calls a minute.
func (c *CoinGecko) Profile() provider.Profile {
	return provider.Profile{Priority: 90, PerMinute: 30, PerDay: 10000}
}

// Supports reports quotes only; CoinGecko's OHLC granularity is chosen by
// the server and cannot honor a requested resolution.
func (c *CoinGecko) Supports(kind core.DataKind, symbol string) bool {
	if kind != core.KindQuote {
		return false
	}
	_, _, ok := toCoin(symbol)
	return ok
}

// FetchQuote fetches the simple price with 24h volume
func (c *CoinGecko) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	id, vs, ok := toCoin(symbol)
	if !ok {
		return nil, core.Errorf(core.ErrUnsupported, "coingecko: unknown coin %s", symbol)
	}

	params := url.Values{
		"ids":                     {id},
		"vs_currencies":           {vs},
		"include_24hr_vol":        {"true"},
		"include_last_updated_at": {"true"},
	}
	var headers map[string]string
	if c.apiKey != "" {
		headers = map[string]string{"x-cg-demo-api-key": c.apiKey}
	}

	var result map[string]map[string]float64
	if err := c.client.GetJSON(ctx, c.baseURL+"/simple/price?"+params.Encode(), headers, &result); err != nil {
		return nil, err
	}

	data, ok := result[id]
	if !ok {
		return nil, core.Errorf(core.ErrSymbolNotFound, "coingecko: no data for %s", id)
	}
	price := data[vs]
	if price <= 0 {
		return nil, core.Errorf(core.ErrBadResponse, "coingecko: no %s price for %s", vs, id)
	}

	q := &core.Quote{
		Symbol:   symbol,
		Price:    price,
		Volume:   int64(data[vs+"_24h_vol"]),
		Provider: c.Name(),
	}
	if ts := int64(data["last_updated_at"]); ts > 0 {
		q.Time = time.Unix(ts, 0)
	}
	return q, nil
}

func (c *CoinGecko) FetchSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, error) {
	return nil, core.Errorf(core.ErrUnsupported, "coingecko: series are not supported")
}

// toCoin splits BTC-USD or ETH/BTC into a coin id and vs currency. Bare
// tickers price in USD.
func toCoin(symbol string) (id, vs string, ok bool) {
	s := strings.ToUpper(symbol)
	base, quote := s, "USD"
	if i := strings.IndexAny(s, "/-"); i > 0 {
		base, quote = s[:i], s[i+1:]
	}
	id, ok = coinIDs[base]
	if !ok {
		return "", "", false
	}
	vs, ok = vsCurrencies[quote]
	return id, vs, ok
}
