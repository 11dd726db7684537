package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/newthinker/marketgate/internal/api/response"
	"github.com/newthinker/marketgate/internal/core"
)

const defaultSeriesCount = 30

type quoteView struct {
	core.Quote
	Cache string `json:"cache"`
}

type batchItem struct {
	Symbol string                `json:"symbol"`
	Quote  *core.Quote           `json:"quote,omitempty"`
	Cache  string                `json:"cache,omitempty"`
	Error  *response.ErrorDetail `json:"error,omitempty"`
}

type seriesView struct {
	*core.Series
	Cache string `json:"cache"`
}

type quotaView struct {
	core.QuotaState
	Remaining int `json:"remaining"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"providers":      len(s.data.Providers()),
		"active_symbols": len(s.data.ActiveSymbols()),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{"providers": s.data.Providers()})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, state, err := s.data.LookupQuote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, quoteView{Quote: *q, Cache: state.String()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	q, err := s.data.Refresh(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, quoteView{Quote: *q, Cache: "miss"})
}

func (s *Server) handleBatchQuotes(w http.ResponseWriter, r *http.Request) {
	symbols := splitSymbols(r.URL.Query().Get("symbols"))
	results, err := s.data.GetQuotes(r.Context(), symbols)
	if err != nil {
		response.Fail(w, err)
		return
	}

	items := make([]batchItem, len(results))
	for i, res := range results {
		items[i] = batchItem{Symbol: res.Symbol}
		if res.Err != nil {
			detail := response.Detail(res.Err)
			items[i].Error = &detail
			continue
		}
		items[i].Quote = res.Quote
		items[i].Cache = res.Cache.String()
	}
	response.JSON(w, http.StatusOK, map[string]any{"quotes": items})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	res := core.Res1Day
	if v := q.Get("resolution"); v != "" {
		parsed, err := core.ParseResolution(v)
		if err != nil {
			response.Fail(w, err)
			return
		}
		res = parsed
	}

	count := defaultSeriesCount
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.Fail(w, core.Errorf(core.ErrInvalidRequest, "count must be an integer"))
			return
		}
		count = n
	}

	series, state, err := s.data.LookupSeries(r.Context(), chi.URLParam(r, "symbol"), res, count)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, seriesView{Series: series, Cache: state.String()})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	states := s.data.QuotaStatus()
	quota := make([]quotaView, len(states))
	for i, st := range states {
		quota[i] = quotaView{QuotaState: st, Remaining: st.Remaining()}
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"quota":   quota,
		"backoff": s.data.BackoffStatus(),
	})
}

// splitSymbols parses a comma separated list, dropping empty items.
func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
