// Package metrics exposes Prometheus instrumentation for the call server.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for callbridge.
type Metrics struct {
	registry *prometheus.Registry

	// Call lifecycle
	CallsActive   prometheus.Gauge
	CallsTotal    *prometheus.CounterVec
	CallsEnded    *prometheus.CounterVec
	CallDuration  prometheus.Histogram
	Transcript    *prometheus.CounterVec
	SessionsSwept prometheus.Counter

	// Pipeline
	Forwards       *prometheus.CounterVec
	Deliveries     *prometheus.CounterVec
	ResponseTiming prometheus.Histogram

	// Transport
	Connections prometheus.Gauge
	EventErrors *prometheus.CounterVec

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with every collector registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callbridge"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently in the active state",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Total number of accepted call starts",
		}, []string{"agent_type"}),
		CallsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total number of ended calls",
		}, []string{"reason"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		Transcript: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Transcript entries appended to live sessions",
		}, []string{"role"}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Ended sessions removed by housekeeping",
		}),
		Forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterance_forwards_total",
			Help:      "Buyer utterances handed to the response pipeline",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_deliveries_total",
			Help:      "Agent responses relayed into call rooms",
		}, []string{"result"}),
		ResponseTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_generation_seconds",
			Help:      "Time spent generating an agent response",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections",
		}),
		EventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Socket events rejected with an error",
		}, []string{"event", "code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		m.CallsActive,
		m.CallsTotal,
		m.CallsEnded,
		m.CallDuration,
		m.Transcript,
		m.SessionsSwept,
		m.Forwards,
		m.Deliveries,
		m.ResponseTiming,
		m.Connections,
		m.EventErrors,
		m.RequestsTotal,
		m.RequestDuration,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCallStart records an accepted call start.
func (m *Metrics) RecordCallStart(agentType string) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(agentType).Inc()
}

// RecordCallEnd records an ended call.
func (m *Metrics) RecordCallEnd(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.CallsEnded.WithLabelValues(reason).Inc()
	m.CallDuration.Observe(duration.Seconds())
}

// SetActiveCalls sets the active call gauge.
func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.CallsActive.Set(float64(n))
}

// RecordTranscript records an appended transcript entry.
func (m *Metrics) RecordTranscript(role string) {
	if m == nil {
		return
	}
	m.Transcript.WithLabelValues(role).Inc()
}

// RecordSweep records removed sessions.
func (m *Metrics) RecordSweep(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

// RecordForward records the outcome of forwarding an utterance.
func (m *Metrics) RecordForward(result string) {
	if m == nil {
		return
	}
	m.Forwards.WithLabelValues(result).Inc()
}

// RecordDelivery records the outcome of relaying a response.
func (m *Metrics) RecordDelivery(delivered bool) {
	if m == nil {
		return
	}
	result := "refused"
	if delivered {
		result = "delivered"
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

// RecordResponseTime records how long the responder took.
func (m *Metrics) RecordResponseTime(d time.Duration) {
	if m == nil {
		return
	}
	m.ResponseTiming.Observe(d.Seconds())
}

// ConnectionOpened increments the open websocket gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

// ConnectionClosed decrements the open websocket gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

// RecordEventError records a socket event rejected with code.
func (m *Metrics) RecordEventError(event, code string) {
	if m == nil {
		return
	}
	m.EventErrors.WithLabelValues(event, code).Inc()
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
