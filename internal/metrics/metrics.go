// Package metrics exposes Prometheus instrumentation for recognition and enrollment.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the face-gate pipeline.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	registry prometheus.Gatherer

	// Recognition outcomes by outcome and reason
	RecognitionOutcome *prometheus.CounterVec

	// End-to-end recognition latency
	RecognitionLatency prometheus.Histogram

	// Embedding provider call latency by operation
	EmbeddingLatency *prometheus.HistogramVec

	// Best match similarity of every decided attempt
	MatchScore prometheus.Histogram

	// Terminal attempts that could not be written to the attempt log
	UnloggedAttempts prometheus.Counter

	// Enrollment results by result kind
	Enrollments *prometheus.CounterVec

	// Number of templates in the live gallery snapshot
	GalleryTemplates prometheus.Gauge
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers all metrics on reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: gatherer,

		RecognitionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_recognition_outcomes_total",
			Help: "Total recognition attempts by terminal outcome and reason",
		}, []string{"outcome", "reason"}),

		RecognitionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facegate_recognition_duration_seconds",
			Help:    "Duration of a full recognition call including the provider round trip",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		EmbeddingLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facegate_embedding_duration_seconds",
			Help:    "Duration of embedding provider calls by operation",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}), // operation: "recognize", "enroll"

		MatchScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facegate_match_score",
			Help:    "Cosine similarity of the best gallery match",
			Buckets: prometheus.LinearBuckets(-0.2, 0.1, 13),
		}),

		UnloggedAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "facegate_unlogged_attempts_total",
			Help: "Terminal recognition attempts whose audit record could not be written",
		}),

		Enrollments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_enrollments_total",
			Help: "Enrollment calls by result",
		}, []string{"result"}),

		GalleryTemplates: factory.NewGauge(prometheus.GaugeOpts{
			Name: "facegate_gallery_templates",
			Help: "Number of enrolled templates in the live gallery",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncrementOutcome records a terminal recognition outcome.
func (m *Metrics) IncrementOutcome(outcome, reason string) {
	if m != nil {
		m.RecognitionOutcome.WithLabelValues(outcome, reason).Inc()
	}
}

// ObserveRecognitionLatency records the total recognition duration.
func (m *Metrics) ObserveRecognitionLatency(d time.Duration) {
	if m != nil {
		m.RecognitionLatency.Observe(d.Seconds())
	}
}

// ObserveEmbeddingLatency records one provider round trip.
func (m *Metrics) ObserveEmbeddingLatency(operation string, d time.Duration) {
	if m != nil {
		m.EmbeddingLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// ObserveMatchScore records the best match similarity.
func (m *Metrics) ObserveMatchScore(score float64) {
	if m != nil {
		m.MatchScore.Observe(score)
	}
}

// IncrementUnlogged counts an attempt lost because the log write failed.
func (m *Metrics) IncrementUnlogged() {
	if m != nil {
		m.UnloggedAttempts.Inc()
	}
}

// IncrementEnrollment records an enrollment result.
func (m *Metrics) IncrementEnrollment(result string) {
	if m != nil {
		m.Enrollments.WithLabelValues(result).Inc()
	}
}

// SetGalleryTemplates records the live gallery size.
func (m *Metrics) SetGalleryTemplates(n int) {
	if m != nil {
		m.GalleryTemplates.Set(float64(n))
	}
}
