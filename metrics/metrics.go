// Package metrics - Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	framesProcessed   prometheus.Counter
	detectionsTotal   *prometheus.CounterVec
	processingSeconds *prometheus.HistogramVec
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firewatch",
		Name:      "detect_requests_total",
		Help:      "Detection requests by file type and outcome.",
	}, []string{"file_type", "outcome"})

	m.framesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "firewatch",
		Name:      "video_frames_processed_total",
		Help:      "Video frames run through the detector.",
	})

	m.detectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firewatch",
		Name:      "detections_total",
		Help:      "Normalized detections by class group.",
	}, []string{"group"})

	m.processingSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "firewatch",
		Name:      "processing_seconds",
		Help:      "End-to-end request processing time.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"file_type"})

	m.registry.MustRegister(
		m.requestsTotal,
		m.framesProcessed,
		m.detectionsTotal,
		m.processingSeconds,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished detection request.
func (m *Metrics) ObserveRequest(fileType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(fileType, outcome).Inc()
	m.processingSeconds.WithLabelValues(fileType).Observe(seconds)
}

// IncFrames counts one processed video frame.
func (m *Metrics) IncFrames() {
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
}

// AddDetections counts normalized detections by class group.
func (m *Metrics) AddDetections(fire, smoke, other int) {
	if m == nil {
		return
	}
	if fire > 0 {
		m.detectionsTotal.WithLabelValues("fire").Add(float64(fire))
	}
	if smoke > 0 {
		m.detectionsTotal.WithLabelValues("smoke").Add(float64(smoke))
	}
	if other > 0 {
		m.detectionsTotal.WithLabelValues("other").Add(float64(other))
	}
}
