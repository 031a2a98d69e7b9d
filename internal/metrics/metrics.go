package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics   *Metrics
	globalCollector *Collector
	globalMu        sync.RWMutex
)

// Metrics holds all Prometheus metrics for phishdrill
type Metrics struct {
	// Aggregation counters
	EventsTotal         *prometheus.CounterVec
	WriteConflictsTotal prometheus.Counter

	// Outbound lure email
	EmailsSentTotal *prometheus.CounterVec

	// Text generation proxy
	TextGenRequestsTotal *prometheus.CounterVec

	// Operator auth
	AuthFailuresTotal *prometheus.CounterVec

	// Change stream
	WatchersActive prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge
	Campaigns        prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phishdrill_events_total",
				Help: "Total number of tracking events by kind and outcome",
			},
			[]string{"kind", "result"},
		),
		WriteConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "phishdrill_write_conflicts_total",
				Help: "Total number of optimistic write conflicts that were retried",
			},
		),

		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phishdrill_emails_sent_total",
				Help: "Total number of lure emails handed to the relay",
			},
			[]string{"result"},
		),

		TextGenRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phishdrill_textgen_requests_total",
				Help: "Total number of text generation requests",
			},
			[]string{"result"},
		),

		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phishdrill_auth_failures_total",
				Help: "Total number of rejected operator credentials",
			},
			[]string{"reason"},
		),

		WatchersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phishdrill_watchers_active",
				Help: "Number of open change stream subscriptions",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phishdrill_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phishdrill_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phishdrill_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phishdrill_ratelimit_exceeded_total",
				Help: "Total number of tracking requests rejected by rate limits",
			},
			[]string{"level"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phishdrill_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phishdrill_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phishdrill_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),
		Campaigns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phishdrill_campaigns",
				Help: "Number of stored campaigns",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EventsTotal,
		m.WriteConflictsTotal,
		m.EmailsSentTotal,
		m.TextGenRequestsTotal,
		m.AuthFailuresTotal,
		m.WatchersActive,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
		m.Campaigns,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// SetGlobalCollector routes the package helpers through c so counters survive restarts
func SetGlobalCollector(c *Collector) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCollector = c
}

func collector() *Collector {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalCollector
}

// IncEvent counts a tracking event outcome
func IncEvent(kind, result string) {
	if c := collector(); c != nil {
		c.TrackEvent(kind, result)
		return
	}
	if m := Global(); m != nil {
		m.EventsTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncWriteConflict counts a retried write conflict
func IncWriteConflict() {
	if c := collector(); c != nil {
		c.TrackWriteConflict()
		return
	}
	if m := Global(); m != nil {
		m.WriteConflictsTotal.Inc()
	}
}

// IncEmailsSent counts a lure email delivery attempt
func IncEmailsSent(result string) {
	if c := collector(); c != nil {
		c.TrackEmailSent(result)
		return
	}
	if m := Global(); m != nil {
		m.EmailsSentTotal.WithLabelValues(result).Inc()
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(level string) {
	if c := collector(); c != nil {
		c.TrackRateLimitExceeded(level)
		return
	}
	if m := Global(); m != nil {
		m.RateLimitExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncTextGen counts a text generation request outcome
func IncTextGen(result string) {
	m := Global()
	if m != nil {
		m.TextGenRequestsTotal.WithLabelValues(result).Inc()
	}
}

// IncAuthFailure counts a rejected operator credential
func IncAuthFailure(reason string) {
	m := Global()
	if m != nil {
		m.AuthFailuresTotal.WithLabelValues(reason).Inc()
	}
}

// AddWatchers adjusts the open change stream gauge
func AddWatchers(delta float64) {
	m := Global()
	if m != nil {
		m.WatchersActive.Add(delta)
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
