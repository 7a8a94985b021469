package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ConnectionEvents  *prometheus.CounterVec
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	WSWriteErrors     *prometheus.CounterVec
	PushFailures      *prometheus.CounterVec
	CapabilityCalls   *prometheus.CounterVec
	CapabilityErrors  *prometheus.CounterVec
	HealthStatus      *prometheus.GaugeVec
	HealthCycles      *prometheus.CounterVec
	ActionLatency     *prometheus.HistogramVec

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of websocket connections attached to this process.",
		}),
		ConnectionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Connection registry events by type.",
		}, []string{"event"}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and action.",
		}, []string{"direction", "action"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by stage.",
		}, []string{"stage"}),
		PushFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_failures_total",
			Help:      "Push deliveries that could not reach their connection.",
		}, []string{"reason"}),
		CapabilityCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "Downstream capability calls by capability and operation.",
		}, []string{"capability", "operation"}),
		CapabilityErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_errors_total",
			Help:      "Downstream capability failures by capability and operation.",
		}, []string{"capability", "operation"}),
		HealthStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capability_healthy",
			Help:      "1 when the last probe of a capability succeeded.",
		}, []string{"capability"}),
		HealthCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_cycles_total",
			Help:      "Health monitor cycles by aggregate status.",
		}, []string{"status"}),
		ActionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_latency_ms",
			Help:      "Action handling latency in milliseconds.",
			Buckets:   []float64{5, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"action"}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveAction(action string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.ActionLatency.WithLabelValues(action).Observe(ms)
	m.latency.Observe(action, ms)
	if !success {
		m.latency.ObserveIndicator(action + "_failed")
	}
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.latency.ObserveIndicator(name)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
