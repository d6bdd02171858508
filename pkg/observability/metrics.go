package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Chat metrics
	MessagesSentTotal    *prometheus.CounterVec
	QuotaRejectionsTotal *prometheus.CounterVec
	ChatProxyTotal       *prometheus.CounterVec
	ChatProxyDuration    *prometheus.HistogramVec

	// Billing metrics
	WebhookEventsTotal    *prometheus.CounterVec
	CheckoutSessionsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	SubscriptionsActive *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumenchat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lumenchat_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumenchat_messages_sent_total",
				Help: "Total number of chat messages accepted by the usage gate",
			},
			[]string{"tier"},
		),
		QuotaRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumenchat_quota_rejections_total",
				Help: "Total number of sends rejected because the monthly quota was exhausted",
			},
			[]string{"tier"},
		),
		ChatProxyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumenchat_chat_proxy_requests_total",
				Help: "Total number of requests forwarded to the chat-completion service",
			},
			[]string{"status"},
		),
		ChatProxyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lumenchat_chat_proxy_duration_seconds",
				Help:    "Chat-completion proxy call duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumenchat_webhook_events_total",
				Help: "Total number of billing webhook events processed",
			},
			[]string{"type", "status"},
		),
		CheckoutSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumenchat_checkout_sessions_total",
				Help: "Total number of checkout sessions created",
			},
			[]string{"status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumenchat_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumenchat_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lumenchat_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lumenchat_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		SubscriptionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lumenchat_subscriptions_active",
				Help: "Number of active subscriptions per tier",
			},
			[]string{"tier"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MessagesSentTotal,
		m.QuotaRejectionsTotal,
		m.ChatProxyTotal,
		m.ChatProxyDuration,
		m.WebhookEventsTotal,
		m.CheckoutSessionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.SubscriptionsActive,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry in Prometheus format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for instrumentation
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// InstrumentHandler wraps an HTTP handler with request count and duration metrics.
// The path label uses the route template, not the raw URL, to bound cardinality.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// CollectDBStats copies sql.DB pool statistics into the connection gauges.
// Intended to be called periodically (see the cron job in cmd/lumenchat).
func (m *Metrics) CollectDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}
