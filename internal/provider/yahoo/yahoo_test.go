package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/provider"
)

func TestYahoo_ImplementsAdapter(t *testing.T) {
	var _ provider.Adapter = (*Yahoo)(nil)
}

func TestYahoo_Name(t *testing.T) {
	y := New(provider.Config{})
	if y.Name() != "yahoo" {
		t.Errorf("expected 'yahoo', got '%s'", y.Name())
	}
}

func TestYahoo_ToYahooSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"AAPL", "AAPL"},
		{"0700.HK", "0700.HK"},
		{"600519.SH", "600519.SS"}, // Shanghai -> SS for Yahoo
		{"000001.SZ", "000001.SZ"},
	}

	y := New(provider.Config{})
	for _, tc := range tests {
		got := y.toYahooSymbol(tc.input)
		if got != tc.expected {
			t.Errorf("toYahooSymbol(%s) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestYahoo_ToYahooInterval(t *testing.T) {
	tests := map[core.Resolution]string{
		core.Res1m:   "1m",
		core.Res30m:  "30m",
		core.Res1h:   "60m",
		core.Res1Day: "1d",
	}
	for res, want := range tests {
		if got := toYahooInterval(res); got != want {
			t.Errorf("toYahooInterval(%s) = %s, want %s", res, got, want)
		}
	}
}

func TestYahoo_FetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v8/finance/chart/600519.SS") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"600519.SS","regularMarketPrice":1680.5,
			"regularMarketVolume":1200,"regularMarketTime":1767225600}}],"error":null}}`))
	}))
	defer srv.Close()

	y := New(provider.Config{BaseURL: srv.URL})
	q, err := y.FetchQuote(context.Background(), "600519.SH")
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if q.Symbol != "600519.SH" || q.Price != 1680.5 || q.Provider != "yahoo" {
		t.Errorf("unexpected quote: %+v", q)
	}
	if q.Time.Unix() != 1767225600 {
		t.Errorf("unexpected time: %v", q.Time)
	}
}

func TestYahoo_FetchQuote_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer srv.Close()

	_, err := New(provider.Config{BaseURL: srv.URL}).FetchQuote(context.Background(), "ZZZZ")
	if err == nil {
		t.Fatal("expected not found error")
	}
	if core.CodeOf(err) != core.ErrSymbolNotFound.Code {
		t.Errorf("expected SYMBOL_NOT_FOUND, got %v", err)
	}
}

func TestYahoo_FetchSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "1d" {
			t.Errorf("unexpected interval %s", r.URL.Query().Get("interval"))
		}
		w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"AAPL"},
			"timestamp":[1767225600,1767312000,1767398400],
			"indicators":{"quote":[{"open":[1,null,3],"high":[2,2,4],"low":[0.5,1,2],"close":[1.5,1.8,3.5],"volume":[100,200,null]}]}}]}}`))
	}))
	defer srv.Close()

	y := New(provider.Config{BaseURL: srv.URL})
	y.now = func() time.Time { return time.Unix(1767500000, 0) }

	s, err := y.FetchSeries(context.Background(), "AAPL", core.Res1Day, 3)
	if err != nil {
		t.Fatalf("FetchSeries failed: %v", err)
	}
	if len(s.Points) != 2 {
		t.Fatalf("expected 2 points (one skipped), got %d", len(s.Points))
	}
	if s.Points[1].Close != 3.5 || s.Points[1].Volume != 0 {
		t.Errorf("unexpected last bar: %+v", s.Points[1])
	}
	if s.Provider != "yahoo" || s.Resolution != core.Res1Day {
		t.Errorf("unexpected series metadata: %+v", s)
	}
}

// Integration test - skip in CI
func TestYahoo_FetchQuote_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	q, err := New(provider.Config{}).FetchQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if q.Price <= 0 {
		t.Errorf("expected positive price, got %f", q.Price)
	}
}
