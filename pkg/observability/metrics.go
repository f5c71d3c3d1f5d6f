package observability

import (
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

	// Delivery metrics
	DeliveriesTotal        *prometheus.CounterVec
	DeliveryDuration       *prometheus.HistogramVec
	DeliveryAttemptsTotal  *prometheus.CounterVec
	DeliveriesDeadLettered prometheus.Counter

	// Event metrics
	EventsPublishedTotal  *prometheus.CounterVec
	EventFanoutDeliveries prometheus.Histogram

	// Key registry metrics
	KeyValidationsTotal *prometheus.CounterVec

	// Rate limit metrics
	RateLimitDecisionsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_webhook_deliveries_total",
				Help: "Webhook delivery outcomes by terminal status",
			},
			[]string{"status"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_webhook_delivery_duration_seconds",
				Help:    "Outbound webhook POST duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		DeliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_webhook_delivery_attempts_total",
				Help: "Individual delivery attempts by result",
			},
			[]string{"result"},
		),
		DeliveriesDeadLettered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_webhook_deliveries_dead_lettered_total",
				Help: "Deliveries that exhausted all retry attempts",
			},
		),

		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_events_published_total",
				Help: "Published webhook events by type",
			},
			[]string{"event_type"},
		),
		EventFanoutDeliveries: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_event_fanout_deliveries",
				Help:    "Delivery rows created per published event",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),

		KeyValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_api_key_validations_total",
				Help: "API key validation attempts by result",
			},
			[]string{"result"},
		),
		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_rate_limit_decisions_total",
				Help: "Rate limit admission decisions",
			},
			[]string{"decision"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_db_connections_idle",
				Help: "Idle database connections",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.DeliveryAttemptsTotal,
		m.DeliveriesDeadLettered,
		m.EventsPublishedTotal,
		m.EventFanoutDeliveries,
		m.KeyValidationsTotal,
		m.RateLimitDecisionsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseRecorder captures the status code for metrics
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware instruments an HTTP handler with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
