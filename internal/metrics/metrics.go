package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
//
// Every recording method is safe to call on a nil *Registry so components can
// run without metrics in tests and CLI commands.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Business metrics
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	quotaUsed        *prometheus.GaugeVec
	backoffTrips     *prometheus.CounterVec
	hubActiveSymbols prometheus.Gauge
	hubSubscribers   prometheus.Gauge
	hubTicks         *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Business metrics
	r.providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketgate_provider_requests_total",
			Help: "Total number of upstream provider calls by outcome",
		},
		[]string{"provider", "outcome"},
	)
	r.providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketgate_provider_request_duration_seconds",
			Help:    "Upstream provider call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"provider"},
	)
	r.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketgate_cache_lookups_total",
			Help: "Total number of cache lookups by data kind and state",
		},
		[]string{"kind", "state"},
	)
	r.quotaUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketgate_quota_used",
			Help: "Calls used in the current quota window",
		},
		[]string{"provider", "window"},
	)
	r.backoffTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketgate_backoff_trips_total",
			Help: "Total number of cooldowns started",
		},
		[]string{"provider"},
	)
	r.hubActiveSymbols = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketgate_hub_active_symbols",
			Help: "Number of symbols with a running poll loop",
		},
	)
	r.hubSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketgate_hub_subscribers",
			Help: "Number of registered real-time subscribers",
		},
	)
	r.hubTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketgate_hub_ticks_total",
			Help: "Total number of hub poll ticks by outcome",
		},
		[]string{"outcome"},
	)

	reg.MustRegister(r.providerRequests)
	reg.MustRegister(r.providerDuration)
	reg.MustRegister(r.cacheLookups)
	reg.MustRegister(r.quotaUsed)
	reg.MustRegister(r.backoffTrips)
	reg.MustRegister(r.hubActiveSymbols)
	reg.MustRegister(r.hubSubscribers)
	reg.MustRegister(r.hubTicks)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	if r == nil {
		return
	}
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Dec()
}

// RecordProviderRequest records one upstream call. outcome is "ok" or an
// error code such as RATE_LIMITED.
func (r *Registry) RecordProviderRequest(provider, outcome string, duration float64) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(provider, outcome).Inc()
	r.providerDuration.WithLabelValues(provider).Observe(duration)
}

// RecordCacheLookup records a cache lookup result (fresh, stale or miss).
func (r *Registry) RecordCacheLookup(kind, state string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(kind, state).Inc()
}

// SetQuotaUsed sets the used count of a provider quota window.
func (r *Registry) SetQuotaUsed(provider, window string, used int) {
	if r == nil {
		return
	}
	r.quotaUsed.WithLabelValues(provider, window).Set(float64(used))
}

// RecordBackoffTrip records a cooldown start.
func (r *Registry) RecordBackoffTrip(provider string) {
	if r == nil {
		return
	}
	r.backoffTrips.WithLabelValues(provider).Inc()
}

// SetHubActiveSymbols sets the number of active poll loops.
func (r *Registry) SetHubActiveSymbols(n int) {
	if r == nil {
		return
	}
	r.hubActiveSymbols.Set(float64(n))
}

// SetHubSubscribers sets the number of registered subscribers.
func (r *Registry) SetHubSubscribers(n int) {
	if r == nil {
		return
	}
	r.hubSubscribers.Set(float64(n))
}

// RecordHubTick records a poll tick outcome (broadcast, unchanged or failed).
func (r *Registry) RecordHubTick(outcome string) {
	if r == nil {
		return
	}
	r.hubTicks.WithLabelValues(outcome).Inc()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
