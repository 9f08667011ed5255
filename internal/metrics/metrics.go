package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sertdev/reqgate/internal/gate"
)

// Metrics holds all Prometheus metric collectors for reqgate.
type Metrics struct {
	Registry            *prometheus.Registry
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge
	GateDecisionsTotal  *prometheus.CounterVec
	GateDelay           prometheus.Histogram
	GateDuration        *prometheus.HistogramVec
	GateErrorsTotal     *prometheus.CounterVec
	DroppedRecordsTotal prometheus.Counter
	RateLimitedTotal    prometheus.Counter
}

// New creates and registers a new Metrics instance using a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP response bodies in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 6),
		}, []string{"path"}),

		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served.",
		}),

		GateDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Admission decisions taken by the gate.",
		}, []string{"handler", "outcome"}),

		GateDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gate_delay_seconds",
			Help:    "Simulated latency applied before admission.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 1},
		}),

		GateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gate_request_duration_seconds",
			Help:    "Total time from gate entry to completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler", "outcome"}),

		GateErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_errors_total",
			Help: "Requests that completed with a handler or gate error.",
		}, []string{"handler"}),

		DroppedRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_dropped_records_total",
			Help: "Timing records dropped because the recorder buffer was full or the store was unavailable.",
		}),

		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_rate_limited_total",
			Help: "Total number of rate-limited requests.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.HTTPInFlight,
		m.GateDecisionsTotal,
		m.GateDelay,
		m.GateDuration,
		m.GateErrorsTotal,
		m.DroppedRecordsTotal,
		m.RateLimitedTotal,
	)

	return m
}

// ObserveDecision implements gate.Observer.
func (m *Metrics) ObserveDecision(t gate.Timing) {
	m.GateDecisionsTotal.WithLabelValues(t.Handler, t.Outcome.String()).Inc()
	m.GateDelay.Observe(t.Delay.Seconds())
}

// ObserveCompletion implements gate.Observer.
func (m *Metrics) ObserveCompletion(t gate.Timing) {
	m.GateDuration.WithLabelValues(t.Handler, t.Outcome.String()).Observe(t.Elapsed.Seconds())
	if t.Err != nil {
		m.GateErrorsTotal.WithLabelValues(t.Handler).Inc()
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
// using the metrics instance's dedicated registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
