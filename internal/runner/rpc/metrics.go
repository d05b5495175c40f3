package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "lcsm"
	metricsSubsystem = "rpc"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connections prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Requests handled, by action and outcome.",
		}, []string{"action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Time spent dispatching a request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_active",
			Help:      "Connections currently served.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.connections)
	}
	return m
}

func (m *Metrics) observe(action string, failed bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.requests.WithLabelValues(action, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(seconds)
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}
