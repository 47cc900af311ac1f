package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueueMetrics instruments the device-side offline queue.
type QueueMetrics struct {
	registry *prometheus.Registry

	pending   prometheus.Gauge
	exhausted prometheus.Gauge
	replayed  *prometheus.CounterVec
	passes    prometheus.Counter
}

func NewQueueMetrics() *QueueMetrics {
	registry := prometheus.NewRegistry()

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "syncqueue",
		Name:      "pending_operations",
		Help:      "Operations waiting to be replayed.",
	})
	exhausted := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "syncqueue",
		Name:      "exhausted_operations",
		Help:      "Operations that hit the retry limit.",
	})
	replayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncqueue",
		Name:      "replayed_total",
		Help:      "Replay attempts by resource type and outcome.",
	}, []string{"resource_type", "outcome"})
	passes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncqueue",
		Name:      "passes_total",
		Help:      "Drain passes started.",
	})

	registry.MustRegister(pending, exhausted, replayed, passes)

	return &QueueMetrics{
		registry:  registry,
		pending:   pending,
		exhausted: exhausted,
		replayed:  replayed,
		passes:    passes,
	}
}

func (m *QueueMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *QueueMetrics) SetDepth(pending, exhausted int) {
	m.pending.Set(float64(pending))
	m.exhausted.Set(float64(exhausted))
}

func (m *QueueMetrics) RecordReplay(resourceType string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "synced"
	}
	m.replayed.WithLabelValues(resourceType, outcome).Inc()
}

func (m *QueueMetrics) RecordPass() {
	m.passes.Inc()
}
