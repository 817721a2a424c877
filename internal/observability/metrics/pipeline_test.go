package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *PipelineMetrics {
	t.Helper()
	m, err := NewPipelineMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestActivePhotosGaugeTracksConcurrentPhotos(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)

	// Two photos in flight, one finishes: the gauge must reflect the one
	// still running, not drop to zero with the first completion.
	m.IncActivePhotos()
	m.IncActivePhotos()
	m.DecActivePhotos()

	assert.InDelta(t, 1, testutil.ToFloat64(m.ActivePhotosGauge), 1e-9)

	m.DecActivePhotos()
	assert.InDelta(t, 0, testutil.ToFloat64(m.ActivePhotosGauge), 1e-9)
}

func TestRecordHelpers(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)

	m.RecordPhotoProcessed("completed", 1.5)
	m.RecordRegionsDetected(3)
	m.RecordRegionRejected("low_confidence")
	m.RecordBibRecognized("ocr")

	assert.InDelta(t, 1, testutil.ToFloat64(m.PhotosProcessed.WithLabelValues("completed")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(m.RegionsDetected), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RegionsRejected.WithLabelValues("low_confidence")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BibsRecognized.WithLabelValues("ocr")), 1e-9)
}
