// Package metrics holds the Prometheus collectors for the advisor. All
// Record/Observe methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the advisor.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Advice
	AdviceTotal    *prometheus.CounterVec
	AdviceDuration prometheus.Histogram
	PhaseDuration  *prometheus.HistogramVec

	// Narration and voice
	NarrationsTotal     *prometheus.CounterVec
	ToolCallsTotal      *prometheus.CounterVec
	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveSessionDuration prometheus.Histogram

	StreamClientsActive prometheus.Gauge
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agrivoice"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method", "route"}),
		AdviceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advice_requests_total",
			Help:      "Advice requests by outcome",
		}, []string{"outcome"}),
		AdviceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "advice_request_duration_seconds",
			Help:      "Time from request to final report or failure",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of each pipeline phase",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"pipeline", "phase", "status"}),
		NarrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narrations_total",
			Help:      "Narration playback attempts by target and outcome",
		}, []string{"target", "outcome"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Realtime tool calls by outcome",
		}, []string{"outcome"}),
		LiveSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of open voice sessions",
		}),
		LiveSessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Voice sessions by how they ended",
		}, []string{"status"}),
		LiveSessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Voice session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		StreamClientsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients_active",
			Help:      "Connected state stream clients",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.AdviceTotal,
		m.AdviceDuration,
		m.PhaseDuration,
		m.NarrationsTotal,
		m.ToolCallsTotal,
		m.LiveSessionsActive,
		m.LiveSessionsTotal,
		m.LiveSessionDuration,
		m.StreamClientsActive,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObservePhase implements orchestrator.Observer.
func (m *Metrics) ObservePhase(pipeline, phase, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(pipeline, phase, status).Observe(d.Seconds())
}

// RecordAdvice records the outcome of one advice request.
func (m *Metrics) RecordAdvice(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AdviceTotal.WithLabelValues(outcome).Inc()
	m.AdviceDuration.Observe(d.Seconds())
}

// ObserveNarration implements playback.Observer.
func (m *Metrics) ObserveNarration(target, outcome string) {
	if m == nil {
		return
	}
	m.NarrationsTotal.WithLabelValues(target, outcome).Inc()
}

// ObserveToolCall implements live.Observer.
func (m *Metrics) ObserveToolCall(outcome string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(outcome).Inc()
}

// RecordLiveSessionStart records a voice session opening.
func (m *Metrics) RecordLiveSessionStart() {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Inc()
}

// RecordLiveSessionEnd records a voice session ending.
func (m *Metrics) RecordLiveSessionEnd(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Dec()
	m.LiveSessionsTotal.WithLabelValues(status).Inc()
	m.LiveSessionDuration.Observe(d.Seconds())
}

// StreamClientConnected adjusts the stream client gauge by delta.
func (m *Metrics) StreamClientConnected(delta int) {
	if m == nil {
		return
	}
	m.StreamClientsActive.Add(float64(delta))
}
