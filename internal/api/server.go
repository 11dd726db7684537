package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/newthinker/marketgate/internal/cache"
	"github.com/newthinker/marketgate/internal/core"
	"github.com/newthinker/marketgate/internal/gateway"
	"github.com/newthinker/marketgate/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MarketData is the part of the gateway the HTTP layer serves.
type MarketData interface {
	LookupQuote(ctx context.Context, symbol string) (*core.Quote, cache.State, error)
	Refresh(ctx context.Context, symbol string) (*core.Quote, error)
	GetQuotes(ctx context.Context, symbols []string) ([]gateway.QuoteResult, error)
	LookupSeries(ctx context.Context, symbol string, res core.Resolution, count int) (*core.Series, cache.State, error)
	SubscribeRealtime(symbols []string, onUpdate func(symbol string, q core.Quote)) (func(), error)
	QuotaStatus() []core.QuotaState
	BackoffStatus() []core.BackoffState
	Providers() []string
	ActiveSymbols() []string
}

// Server represents the HTTP server for marketgate
type Server struct {
	httpServer *http.Server
	router     chi.Router
	data       MarketData
	metrics    *metrics.Registry
	logger     *zap.Logger
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	MetricsPath string // empty disables /metrics
}

// NewServer creates a new HTTP server. reg may be nil.
func NewServer(cfg Config, data MarketData, reg *metrics.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:  chi.NewRouter(),
		data:    data,
		metrics: reg,
		logger:  logger,
	}
	s.setupRoutes(cfg)

	// No WriteTimeout: stream connections stay open indefinitely.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config) {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(metrics.LoggingMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(metrics.HTTPMiddleware(s.metrics))
		if cfg.MetricsPath != "" {
			r.Method(http.MethodGet, cfg.MetricsPath, promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
		}
	}

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/providers", s.handleProviders)
		r.Get("/quotes", s.handleBatchQuotes)
		r.Get("/quotes/{symbol}", s.handleQuote)
		r.Post("/quotes/{symbol}/refresh", s.handleRefresh)
		r.Get("/series/{symbol}", s.handleSeries)
		r.Get("/quota", s.handleQuota)
		r.Get("/stream", s.handleStream)
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
