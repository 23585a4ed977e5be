// Package metrics holds the Prometheus collectors for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	DeltasTotal     *prometheus.CounterVec
	ToolCallsTotal  *prometheus.CounterVec
	AudioBytesTotal *prometheus.CounterVec
}

// New creates a Metrics instance with a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicewire"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active bridge sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of bridge sessions",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Bridge session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	deltasTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_total",
			Help:      "Total conversation deltas merged",
		},
		[]string{"kind"},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total tool calls dispatched",
		},
		[]string{"tool", "status"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes relayed",
		},
		[]string{"direction"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		deltasTotal,
		toolCallsTotal,
		audioBytesTotal,
	)

	return &Metrics{
		registry:        registry,
		SessionsActive:  sessionsActive,
		SessionsTotal:   sessionsTotal,
		SessionDuration: sessionDuration,
		DeltasTotal:     deltasTotal,
		ToolCallsTotal:  toolCallsTotal,
		AudioBytesTotal: audioBytesTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(status string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// DeltaApplied counts one merged conversation delta.
func (m *Metrics) DeltaApplied(kind string) {
	m.DeltasTotal.WithLabelValues(kind).Inc()
}

// ToolCallFinished counts one tool call reaching a terminal status.
func (m *Metrics) ToolCallFinished(tool, status string) {
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// AudioForwarded counts relayed audio bytes by direction.
func (m *Metrics) AudioForwarded(direction string, n int) {
	if n > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
	}
}
