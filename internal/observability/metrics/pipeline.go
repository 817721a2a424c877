// Package metrics provides custom Prometheus metrics for the bibscan
// application.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains all Prometheus metrics related to photo processing.
type PipelineMetrics struct {
	PhotosProcessed *prometheus.CounterVec
	RegionsDetected prometheus.Counter
	RegionsRejected *prometheus.CounterVec
	BibsRecognized  *prometheus.CounterVec

	// Performance metrics
	StageDuration *prometheus.HistogramVec
	PhotoDuration prometheus.Histogram

	// Current state gauges
	ActivePhotosGauge prometheus.Gauge

	registry *prometheus.Registry
}

// NewPipelineMetrics creates a new instance of PipelineMetrics and registers
// it on the given registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.PhotosProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bibscan_photos_processed_total",
			Help: "Total number of photos run through the pipeline, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	m.RegionsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bibscan_regions_detected_total",
			Help: "Total number of candidate bib regions returned by the detector.",
		},
	)
	m.RegionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bibscan_regions_rejected_total",
			Help: "Candidate regions discarded before recognition, partitioned by reason.",
		},
		[]string{"reason"},
	)
	m.BibsRecognized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bibscan_bibs_recognized_total",
			Help: "Recognized bib numbers, partitioned by recognition method.",
		},
		[]string{"method"},
	)
	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bibscan_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"stage"},
	)
	m.PhotoDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bibscan_photo_duration_seconds",
			Help:    "End-to-end processing time per photo.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)
	m.ActivePhotosGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bibscan_active_photos",
			Help: "Number of photos currently being processed.",
		},
	)
}

// RecordPhotoProcessed increments the photo counter for the given outcome.
func (m *PipelineMetrics) RecordPhotoProcessed(outcome string, durationSeconds float64) {
	m.PhotosProcessed.WithLabelValues(outcome).Inc()
	m.PhotoDuration.Observe(durationSeconds)
}

// RecordRegionsDetected adds to the detected-region counter.
func (m *PipelineMetrics) RecordRegionsDetected(count int) {
	m.RegionsDetected.Add(float64(count))
}

// RecordRegionRejected counts a region discarded before recognition.
func (m *PipelineMetrics) RecordRegionRejected(reason string) {
	m.RegionsRejected.WithLabelValues(reason).Inc()
}

// RecordBibRecognized counts one recognized bib by method.
func (m *PipelineMetrics) RecordBibRecognized(method string) {
	m.BibsRecognized.WithLabelValues(method).Inc()
}

// RecordStageDuration observes time spent in one pipeline stage.
func (m *PipelineMetrics) RecordStageDuration(stage string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// IncActivePhotos counts one photo entering the pipeline.
func (m *PipelineMetrics) IncActivePhotos() {
	m.ActivePhotosGauge.Inc()
}

// DecActivePhotos counts one photo leaving the pipeline.
func (m *PipelineMetrics) DecActivePhotos() {
	m.ActivePhotosGauge.Dec()
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.PhotosProcessed.Describe(ch)
	ch <- m.RegionsDetected.Desc()
	m.RegionsRejected.Describe(ch)
	m.BibsRecognized.Describe(ch)
	m.StageDuration.Describe(ch)
	ch <- m.PhotoDuration.Desc()
	ch <- m.ActivePhotosGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.PhotosProcessed.Collect(ch)
	ch <- m.RegionsDetected
	m.RegionsRejected.Collect(ch)
	m.BibsRecognized.Collect(ch)
	m.StageDuration.Collect(ch)
	ch <- m.PhotoDuration
	ch <- m.ActivePhotosGauge
}
