// Package metrics exposes Prometheus instruments for the API server and the
// field sync agent. Each owner gets its own registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "constructionpro"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	annotationOps    *prometheus.CounterVec
	revisionsTotal   prometheus.Counter
	documentsCreated *prometheus.CounterVec
	presignCache     *prometheus.CounterVec
}

func NewHTTPServerMetrics() *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		},
	)
	annotationOps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "annotations",
			Name:      "operations_total",
			Help:      "Committed annotation operations by action.",
		},
		[]string{"action"},
	)
	revisionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "revisions_recorded_total",
			Help:      "Document revisions recorded, including initial versions.",
		},
	)
	documentsCreated := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "created_total",
			Help:      "Documents created by category.",
		},
		[]string{"category"},
	)
	presignCache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "presign_cache_total",
			Help:      "Presigned URL cache lookups by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(requestTotal, requestDuration, requestInFlight,
		annotationOps, revisionsTotal, documentsCreated, presignCache)

	return &HTTPServerMetrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		annotationOps:    annotationOps,
		revisionsTotal:   revisionsTotal,
		documentsCreated: documentsCreated,
		presignCache:     presignCache,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records every request under its route template so that ids
// in the path do not explode label cardinality.
func (m *HTTPServerMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *HTTPServerMetrics) RecordAnnotationOp(action string) {
	m.annotationOps.WithLabelValues(action).Inc()
}

func (m *HTTPServerMetrics) RecordRevision() {
	m.revisionsTotal.Inc()
}

func (m *HTTPServerMetrics) RecordDocumentCreated(category string) {
	m.documentsCreated.WithLabelValues(category).Inc()
}

func (m *HTTPServerMetrics) RecordPresignLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.presignCache.WithLabelValues(result).Inc()
}
