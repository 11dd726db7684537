package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGecko_Name(t *testing.T) {
	c := New(provider.Config{})
	if c.Name() != "coingecko" {
		t.Errorf("expected 'coingecko', got '%s'", c.Name())
	}
}

func TestToCoin(t *testing.T) {
	tests := []struct {
		symbol string
		id     string
		vs     string
		ok     bool
	}{
		{"BTC-USD", "bitcoin", "usd", true},
		{"ETH/BTC", "ethereum", "btc", true},
		{"sol-usdt", "solana", "usd", true},
		{"BTC", "bitcoin", "usd", true},
		{"AAPL", "", "", false},
		{"BTC-JPY", "", "", false},
	}
	for _, tc := range tests {
		id, vs, ok := toCoin(tc.symbol)
		if id != tc.id || vs != tc.vs || ok != tc.ok {
			t.Errorf("toCoin(%s) = %s, %s, %v", tc.symbol, id, vs, ok)
		}
	}
}

func TestCoinGecko_SupportsQuotesOnly(t *testing.T) {
	c := New(provider.Config{})
	assert.True(t, c.Supports(core.KindQuote, "BTC-USD"))
	assert.False(t, c.Supports(core.KindDailySeries, "BTC-USD"))
	assert.False(t, c.Supports(core.KindQuote, "AAPL"))

	_, err := c.FetchSeries(context.Background(), "BTC-USD", core.Res1Day, 10)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestCoinGecko_FetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "demo-key", r.Header.Get("x-cg-demo-api-key"))
		w.Write([]byte(`{"bitcoin":{"usd":64321.5,"usd_24h_vol":1.5e10,"last_updated_at":1767225600}}`))
	}))
	defer srv.Close()

	c := New(provider.Config{BaseURL: srv.URL, APIKey: "demo-key"})
	q, err := c.FetchQuote(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 64321.5, q.Price)
	assert.Equal(t, int64(15000000000), q.Volume)
	assert.Equal(t, time.Unix(1767225600, 0), q.Time)
}

func TestCoinGecko_FetchQuoteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   *core.Error
	}{
		{"missing coin", http.StatusOK, `{}`, core.ErrSymbolNotFound},
		{"missing price", http.StatusOK, `{"bitcoin":{}}`, core.ErrBadResponse},
		{"rate limited", http.StatusTooManyRequests, `{}`, core.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(provider.Config{BaseURL: srv.URL}).FetchQuote(context.Background(), "BTC-USD")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
