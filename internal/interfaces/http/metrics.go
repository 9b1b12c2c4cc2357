package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/coinexec/orderflow/internal/queue"
)

// MetricsRegistry holds every Prometheus metric the engine exports. All
// metrics live on a private registry so tests can gather without touching
// the global default.
type MetricsRegistry struct {
	registry *prometheus.Registry

	OrdersSubmitted  prometheus.Counter
	OrdersTerminal   *prometheus.CounterVec
	PipelineDuration prometheus.Histogram

	ValidationRejects prometheus.Counter
	CriticalErrors    prometheus.Counter

	QueueJobs *prometheus.GaugeVec

	VenueRequests *prometheus.CounterVec
	VenueLatency  *prometheus.HistogramVec
	BreakerState  *prometheus.GaugeVec

	StreamSubscribers prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetricsRegistry creates and registers the orderflow metric set.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		OrdersSubmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orderflow_orders_submitted_total",
				Help: "Total orders accepted by the submission endpoint",
			},
		),

		OrdersTerminal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_orders_terminal_total",
				Help: "Total orders reaching a terminal status",
			},
			[]string{"status"},
		),

		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orderflow_pipeline_duration_seconds",
				Help:    "Time from order creation to terminal status",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		ValidationRejects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orderflow_validation_rejects_total",
				Help: "Total submissions rejected before an order was created",
			},
		),

		CriticalErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orderflow_critical_errors_total",
				Help: "Total SYSTEM errors published on the critical-error bus",
			},
		),

		QueueJobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orderflow_queue_jobs",
				Help: "Jobs per queue state",
			},
			[]string{"state"},
		),

		VenueRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_venue_requests_total",
				Help: "Venue calls by operation and result",
			},
			[]string{"venue", "op", "result"},
		),

		VenueLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderflow_venue_latency_seconds",
				Help:    "Venue call latency",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"venue", "op"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orderflow_breaker_state",
				Help: "Venue circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"venue"},
		),

		StreamSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orderflow_stream_subscribers",
				Help: "Currently attached status stream subscribers",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderflow_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"route"},
		),
	}

	m.registry.MustRegister(
		m.OrdersSubmitted,
		m.OrdersTerminal,
		m.PipelineDuration,
		m.ValidationRejects,
		m.CriticalErrors,
		m.QueueJobs,
		m.VenueRequests,
		m.VenueLatency,
		m.BreakerState,
		m.StreamSubscribers,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the raw metric families for test assertions.
func (m *MetricsRegistry) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}

// RecordSubmission counts an accepted order.
func (m *MetricsRegistry) RecordSubmission() {
	m.OrdersSubmitted.Inc()
}

// RecordValidationReject counts a submission turned away by validation.
func (m *MetricsRegistry) RecordValidationReject() {
	m.ValidationRejects.Inc()
}

// RecordTerminal counts a terminal order and observes its pipeline time.
func (m *MetricsRegistry) RecordTerminal(status string, sinceCreation time.Duration) {
	m.OrdersTerminal.WithLabelValues(status).Inc()
	if sinceCreation > 0 {
		m.PipelineDuration.Observe(sinceCreation.Seconds())
	}
}

// RecordCriticalError counts one bus event.
func (m *MetricsRegistry) RecordCriticalError() {
	m.CriticalErrors.Inc()
}

// SetQueueStats publishes the queue gauges from a stats snapshot.
func (m *MetricsRegistry) SetQueueStats(stats *queue.Stats) {
	if stats == nil {
		return
	}
	m.QueueJobs.WithLabelValues("waiting").Set(float64(stats.Waiting))
	m.QueueJobs.WithLabelValues("active").Set(float64(stats.Active))
	m.QueueJobs.WithLabelValues("delayed").Set(float64(stats.Delayed))
	m.QueueJobs.WithLabelValues("completed").Set(float64(stats.Completed))
	m.QueueJobs.WithLabelValues("failed").Set(float64(stats.Failed))
}

// RecordVenueRequest counts one venue call and observes its latency.
func (m *MetricsRegistry) RecordVenueRequest(venueName, op, result string, elapsed time.Duration) {
	m.VenueRequests.WithLabelValues(venueName, op, result).Inc()
	m.VenueLatency.WithLabelValues(venueName, op).Observe(elapsed.Seconds())
}

// SetBreakerState publishes a breaker state change using gobreaker's
// state names.
func (m *MetricsRegistry) SetBreakerState(venueName, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(venueName).Set(v)
}

// SetStreamSubscribers publishes the hub's subscriber count.
func (m *MetricsRegistry) SetStreamSubscribers(n int) {
	m.StreamSubscribers.Set(float64(n))
}

// RecordHTTPRequest counts one served request.
func (m *MetricsRegistry) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
