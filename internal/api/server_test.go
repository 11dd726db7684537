package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/marketgate/internal/api/response"
	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/gateway"
	"github.com/newthinker/marketgate/internal/hub"
	"github.com/newthinker/marketgate/internal/metrics"
	"github.com/newthinker/marketgate/internal/provider"
	"github.com/newthinker/marketgate/internal/provider/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newTestServer(t *testing.T, reg *metrics.Registry) (*Server, *mocks.MockAdapter) {
	t.Helper()
	ctrl := gomock.NewController(t)
	a := mocks.NewMockAdapter(ctrl)
	a.EXPECT().Name().Return("mock").AnyTimes()
	a.EXPECT().Profile().Return(provider.Profile{Priority: 1}).AnyTimes()
	a.EXPECT().Supports(gomock.Any(), gomock.Any()).Return(true).AnyTimes()

	cfg := gateway.DefaultConfig()
	cfg.Hub = hub.Config{PollInterval: time.Hour}
	g, err := gateway.New(cfg, []provider.Adapter{a})
	require.NoError(t, err)
	t.Cleanup(g.Close)

	return NewServer(Config{Host: "localhost", MetricsPath: "/metrics"}, g, reg, zap.NewNop()), a
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := get(t, srv, "/api/health")

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1.0, body["providers"])
	assert.Equal(t, 0.0, body["active_symbols"])
}

func TestServer_Quote(t *testing.T) {
	srv, a := newTestServer(t, nil)
	a.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(&core.Quote{Price: 190.12}, nil).Times(1)

	w := get(t, srv, "/api/v1/quotes/aapl")
	require.Equal(t, http.StatusOK, w.Code)
	q := decode[map[string]any](t, w)
	assert.Equal(t, "AAPL", q["symbol"])
	assert.Equal(t, 190.12, q["price"])
	assert.Equal(t, "mock", q["provider"])
	assert.Equal(t, "miss", q["cache"])
	assert.NotEmpty(t, q["timestamp"])

	w = get(t, srv, "/api/v1/quotes/AAPL")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fresh", decode[map[string]any](t, w)["cache"])
}

func TestServer_QuoteErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		upstream   error
		wantStatus int
		wantCode   string
	}{
		{"invalid symbol", "/api/v1/quotes/bad%20symbol", nil, http.StatusBadRequest, "INVALID_SYMBOL"},
		{"unknown symbol", "/api/v1/quotes/ZZZZ", core.ErrSymbolNotFound, http.StatusBadRequest, "INVALID_SYMBOL"},
		{"exhausted", "/api/v1/quotes/AAPL", core.ErrRateLimited, http.StatusServiceUnavailable, "ALL_PROVIDERS_EXHAUSTED"},
		{"timeout", "/api/v1/quotes/AAPL", core.ErrTimeout, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, a := newTestServer(t, nil)
			if tt.upstream != nil {
				a.EXPECT().FetchQuote(gomock.Any(), gomock.Any()).Return(nil, tt.upstream)
			}

			w := get(t, srv, tt.path)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, w))
		})
	}
}

func TestServer_Refresh(t *testing.T) {
	srv, a := newTestServer(t, nil)
	a.EXPECT().FetchQuote(gomock.Any(), "MSFT").Return(&core.Quote{Price: 410}, nil).Times(2)

	get(t, srv, "/api/v1/quotes/MSFT")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/MSFT/refresh", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServer_BatchQuotes(t *testing.T) {
	srv, a := newTestServer(t, nil)
	a.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(&core.Quote{Price: 190}, nil)
	a.EXPECT().FetchQuote(gomock.Any(), "NOPE").Return(nil, core.ErrSymbolNotFound)

	w := get(t, srv, "/api/v1/quotes?symbols=AAPL,,NOPE")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[struct {
		Quotes []batchItem `json:"quotes"`
	}](t, w)
	require.Len(t, body.Quotes, 2)
	assert.Equal(t, 190.0, body.Quotes[0].Quote.Price)
	assert.Nil(t, body.Quotes[0].Error)
	require.NotNil(t, body.Quotes[1].Error)
	assert.Equal(t, "INVALID_SYMBOL", body.Quotes[1].Error.Code)

	w = get(t, srv, "/api/v1/quotes")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Series(t *testing.T) {
	srv, a := newTestServer(t, nil)
	a.EXPECT().FetchSeries(gomock.Any(), "AAPL", core.Res1h, 2).Return(&core.Series{Points: []core.Bar{
		{Time: time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC), Close: 2},
		{Time: time.Date(2026, 1, 2, 14, 0, 0, 0, time.UTC), Close: 1},
	}}, nil)

	w := get(t, srv, "/api/v1/series/AAPL?resolution=1h&count=2")
	require.Equal(t, http.StatusOK, w.Code)

	s := decode[core.Series](t, w)
	assert.Equal(t, core.Res1h, s.Resolution)
	require.Len(t, s.Points, 2)
	assert.Equal(t, 1.0, s.Points[0].Close, "points are ordered")
}

func TestServer_SeriesValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, path := range []string{
		"/api/v1/series/AAPL?count=abc",
		"/api/v1/series/AAPL?count=0",
		"/api/v1/series/AAPL?count=5001",
		"/api/v1/series/AAPL?resolution=2w",
	} {
		w := get(t, srv, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w), path)
	}
}

func TestServer_Quota(t *testing.T) {
	srv, a := newTestServer(t, nil)
	a.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(&core.Quote{Price: 1}, nil)
	get(t, srv, "/api/v1/quotes/AAPL")

	w := get(t, srv, "/api/v1/quota")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[struct {
		Quota []quotaView `json:"quota"`
	}](t, w)
	require.Len(t, body.Quota, 2)
	assert.Equal(t, "mock", body.Quota[0].Provider)
	assert.Equal(t, 1, body.Quota[0].Used)
	assert.Equal(t, -1, body.Quota[0].Remaining)
}

func TestServer_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	srv, _ := newTestServer(t, reg)

	get(t, srv, "/api/health")
	w := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")

	srv, _ = newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/metrics").Code)
}

func TestServer_Stream(t *testing.T) {
	srv, a := newTestServer(t, nil)
	a.EXPECT().FetchQuote(gomock.Any(), "MSFT").Return(&core.Quote{Price: 410.37}, nil).Times(1)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream?symbols=msft"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	var frame streamFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("failed reading update: %v", err)
	}
	assert.Equal(t, "quote", frame.Type)
	assert.Equal(t, "MSFT", frame.Symbol)
	assert.Equal(t, 410.37, frame.Price)
	assert.Equal(t, []string{"MSFT"}, srv.data.ActiveSymbols())

	conn.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool {
		return len(srv.data.ActiveSymbols()) == 0
	}, 2*time.Second, 10*time.Millisecond, "disconnect unsubscribes")
}

func TestServer_StreamRejectsBadSymbols(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, query := range []string{"", "?symbols=bad%20one"} {
		resp, err := http.Get(ts.URL + "/api/v1/stream" + query)
		if err != nil {
			t.Fatalf("http get failed: %v", err)
		}
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}
