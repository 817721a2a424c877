package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/datastore"
	"github.com/growlabs/bibscan-go/internal/detector"
	"github.com/growlabs/bibscan-go/internal/errors"
	"github.com/growlabs/bibscan-go/internal/recognizer"
	"github.com/growlabs/bibscan-go/internal/storage"
)

// fakeDetector returns canned predictions or a canned error.
type fakeDetector struct {
	response *detector.Response
	err      error
}

func (f *fakeDetector) Detect(_ context.Context, _ string) (*detector.Response, error) {
	return f.response, f.err
}

// fakeRecognizer recognizes bib 341 for high-confidence regions and nothing
// otherwise. It counts calls to verify the confidence filter.
type fakeRecognizer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRecognizer) Recognize(_ context.Context, in recognizer.Input) (*recognizer.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if in.DetectorConfidence >= 0.85 {
		return &recognizer.Result{BibNumber: "341", Confidence: 0.8, Method: recognizer.MethodOCR}, nil
	}
	return nil, nil
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAssets records uploads and deletes.
type fakeAssets struct {
	mu        sync.Mutex
	uploadErr error
	uploads   []string
	deletes   []string
}

func (f *fakeAssets) Upload(_ context.Context, localPath, _ string) (*storage.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, localPath)
	return &storage.UploadResult{
		URL:     "https://res.cloudinary.com/demo/race-photos/abc.jpg",
		AssetID: "race-photos/abc",
		Width:   200, Height: 200, Format: "png", Bytes: 1024,
	}, nil
}

func (f *fakeAssets) Delete(_ context.Context, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, assetID)
	return nil
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Database.SQLite.Enabled = true
	s.Database.SQLite.Path = filepath.Join(t.TempDir(), "pipeline.db")
	s.Detector.ConfidenceThreshold = 0.5
	s.Recognizer.Engine = "matching"
	s.Recognizer.CropPadding = 20
	s.Recognizer.ScaleFactor = 6
	s.Storage.Folder = "race-photos"
	s.Pipeline.Workers = 2
	s.Pipeline.QueueSize = 10
	return s
}

func testStore(t *testing.T, settings *conf.Settings) datastore.Interface {
	t.Helper()
	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// writePhotoFile writes a 200x200 PNG the pipeline can crop regions from.
func writePhotoFile(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			v := uint8((x + y) % 256)
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "photo.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func twoRegionResponse() *detector.Response {
	resp := &detector.Response{
		Predictions: []detector.Prediction{
			{X: 60, Y: 60, Width: 40, Height: 40, Confidence: 0.9, Class: "bib", ClassID: 1, DetectionID: "det-abc"},
			{X: 150, Y: 150, Width: 40, Height: 40, Confidence: 0.75, Class: "bib", ClassID: 1, DetectionID: "det-def"},
		},
	}
	resp.Image.Width = 200
	resp.Image.Height = 200
	return resp
}

func newTestProcessor(t *testing.T, det detector.Interface, rec recognizer.Recognizer, assets storage.Interface) (*Processor, datastore.Interface) {
	t.Helper()
	settings := testSettings(t)
	store := testStore(t, settings)
	p, err := New(settings, store, det, rec, assets, nil)
	require.NoError(t, err)
	return p, store
}

func createPendingPhoto(t *testing.T, p *Processor) *datastore.Photo {
	t.Helper()
	photo, err := p.CreatePhoto(writePhotoFile(t), CreatePhotoOptions{OriginalName: "finish.png"})
	require.NoError(t, err)
	return photo
}

func TestProcessPhotoEndToEnd(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{}
	assets := &fakeAssets{}
	p, store := newTestProcessor(t, &fakeDetector{response: twoRegionResponse()}, rec, assets)

	photo := createPendingPhoto(t, p)
	localPath := photo.URL

	require.NoError(t, p.ProcessPhoto(context.Background(), photo.ID))

	// Both regions pass the confidence filter and reach the recognizer; only
	// the high-confidence one yields a bib.
	assert.Equal(t, 2, rec.callCount())

	detections, err := store.DetectionsByPhoto(photo.ID)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, "341", detections[0].BibNumber)
	assert.Equal(t, recognizer.MethodOCR, detections[0].Method)
	assert.Equal(t, "race-photos/abc", detections[0].AssetID)

	// Detector metadata travels with the detection row.
	assert.InDelta(t, 0.9, detections[0].DetectorConfidence, 1e-9)
	assert.InDelta(t, 0.8, detections[0].Confidence, 1e-9)
	assert.Equal(t, 1, detections[0].ClassID)
	assert.Equal(t, "det-abc", detections[0].DetectionID)

	updated, err := store.GetPhoto(photo.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusCompleted, updated.Status)
	assert.True(t, updated.IsProcessed)
	require.NotNil(t, updated.ProcessedAt)
	assert.Equal(t, "https://res.cloudinary.com/demo/race-photos/abc.jpg", updated.URL)

	// Local file is removed once the asset is stored remotely.
	_, statErr := os.Stat(localPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessPhotoDetectorUnavailable(t *testing.T) {
	t.Parallel()

	detErr := errors.Newf("%w: status 503", detector.ErrUnavailable).Build()
	p, store := newTestProcessor(t, &fakeDetector{err: detErr}, &fakeRecognizer{}, nil)

	photo := createPendingPhoto(t, p)

	err := p.ProcessPhoto(context.Background(), photo.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, detector.ErrUnavailable)

	failed, err := store.GetPhoto(photo.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusFailed, failed.Status)
	assert.NotEmpty(t, failed.FailureReason)
	assert.False(t, failed.IsProcessed)
}

func TestProcessPhotoConfidenceFilter(t *testing.T) {
	t.Parallel()

	resp := twoRegionResponse()
	resp.Predictions[1].Confidence = 0.3 // below the 0.5 threshold

	rec := &fakeRecognizer{}
	p, _ := newTestProcessor(t, &fakeDetector{response: resp}, rec, nil)

	photo := createPendingPhoto(t, p)
	require.NoError(t, p.ProcessPhoto(context.Background(), photo.ID))

	assert.Equal(t, 1, rec.callCount())
}

func TestProcessPhotoUploadFailureMarksPhotoFailed(t *testing.T) {
	t.Parallel()

	assets := &fakeAssets{uploadErr: errors.NewStd("cloud unreachable")}
	p, store := newTestProcessor(t, &fakeDetector{response: twoRegionResponse()}, &fakeRecognizer{}, assets)

	photo := createPendingPhoto(t, p)
	localPath := photo.URL

	err := p.ProcessPhoto(context.Background(), photo.ID)
	require.Error(t, err)

	// Upload failure is photo-fatal: the photo must not look processed while
	// its URL still points at local disk.
	updated, err := store.GetPhoto(photo.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusFailed, updated.Status)
	assert.NotEmpty(t, updated.FailureReason)
	assert.False(t, updated.IsProcessed)
	assert.Nil(t, updated.ProcessedAt)
	assert.Equal(t, localPath, updated.URL)

	// The local file survives so a retry can upload it.
	_, statErr := os.Stat(localPath)
	assert.NoError(t, statErr)
}

func TestProcessPhotoAppendsDetections(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t, &fakeDetector{response: twoRegionResponse()}, &fakeRecognizer{}, nil)
	photo := createPendingPhoto(t, p)

	require.NoError(t, p.ProcessPhoto(context.Background(), photo.ID))
	require.NoError(t, p.ProcessPhoto(context.Background(), photo.ID))

	// Plain processing is additive: running twice duplicates results.
	detections, err := store.DetectionsByPhoto(photo.ID)
	require.NoError(t, err)
	assert.Len(t, detections, 2)
}

func TestReprocessPhotoReplacesDetections(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t, &fakeDetector{response: twoRegionResponse()}, &fakeRecognizer{}, nil)
	photo := createPendingPhoto(t, p)

	require.NoError(t, p.ProcessPhoto(context.Background(), photo.ID))
	require.NoError(t, p.ReprocessPhoto(context.Background(), photo.ID))

	detections, err := store.DetectionsByPhoto(photo.ID)
	require.NoError(t, err)
	assert.Len(t, detections, 1)
}

func TestEnqueueProcessing(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t, &fakeDetector{response: twoRegionResponse()}, &fakeRecognizer{}, nil)
	p.Start(context.Background())
	t.Cleanup(func() { _ = p.Stop() })

	photo := createPendingPhoto(t, p)

	job, err := p.EnqueueProcessing(photo.ID)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetPhoto(photo.ID)
		require.NoError(t, err)
		if got.IsProcessed {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("photo was not processed in time")
}

func TestCreatePhotoMetadata(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t, &fakeDetector{}, &fakeRecognizer{}, nil)

	path := writePhotoFile(t)
	photo, err := p.CreatePhoto(path, CreatePhotoOptions{
		RaceID:       "race-1",
		UploaderID:   "user-1",
		OriginalName: "IMG_0042.png",
	})
	require.NoError(t, err)

	got, err := store.GetPhoto(photo.ID)
	require.NoError(t, err)
	assert.Equal(t, "IMG_0042.png", got.OriginalName)
	assert.Equal(t, "image/png", got.MimeType)
	assert.Equal(t, "race-1", got.RaceID)
	assert.Equal(t, datastore.StatusPending, got.Status)
	assert.Positive(t, got.SizeBytes)
}

func TestCreatePhotoStagesUpload(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Pipeline.UploadDir = filepath.Join(t.TempDir(), "uploads")
	store := testStore(t, settings)
	p, err := New(settings, store, &fakeDetector{}, &fakeRecognizer{}, nil, nil)
	require.NoError(t, err)

	path := writePhotoFile(t)
	photo, err := p.CreatePhoto(path, CreatePhotoOptions{})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(settings.Pipeline.UploadDir, photo.ID+".png"), photo.URL)
	_, err = os.Stat(photo.URL)
	assert.NoError(t, err, "staged copy should exist")
	_, err = os.Stat(path)
	assert.NoError(t, err, "original file should be untouched")
}

func TestCreatePhotoMissingFile(t *testing.T) {
	t.Parallel()

	p, _ := newTestProcessor(t, &fakeDetector{}, &fakeRecognizer{}, nil)

	_, err := p.CreatePhoto(filepath.Join(t.TempDir(), "missing.png"), CreatePhotoOptions{})
	assert.Error(t, err)
}

func TestDeletePhotoCleansUpRemoteAsset(t *testing.T) {
	t.Parallel()

	assets := &fakeAssets{}
	p, store := newTestProcessor(t, &fakeDetector{response: twoRegionResponse()}, &fakeRecognizer{}, assets)

	photo := createPendingPhoto(t, p)
	require.NoError(t, p.ProcessPhoto(context.Background(), photo.ID))

	require.NoError(t, p.DeletePhoto(context.Background(), photo.ID))

	assert.Equal(t, []string{"race-photos/abc"}, assets.deletes)
	_, err := store.GetPhoto(photo.ID)
	assert.Error(t, err)
}

func TestSearchByBibNumber(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t, &fakeDetector{response: twoRegionResponse()}, &fakeRecognizer{}, nil)

	race := &datastore.Race{ID: "race-1", Name: "City Run", Date: time.Now()}
	require.NoError(t, store.SaveRace(race))
	require.NoError(t, store.SaveRunner(&datastore.Runner{
		ID: "runner-1", RaceID: race.ID, BibNumber: "341",
		FirstName: "Anna", LastName: "Korhonen",
	}))

	photo, err := p.CreatePhoto(writePhotoFile(t), CreatePhotoOptions{RaceID: race.ID})
	require.NoError(t, err)
	require.NoError(t, p.ProcessPhoto(context.Background(), photo.ID))

	matches, err := p.SearchByBibNumber("341")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, photo.ID, matches[0].Photo.ID)
	require.NotNil(t, matches[0].Runner)
	assert.Equal(t, "Anna", matches[0].Runner.FirstName)

	// Runner details survive deletion thanks to the lookup cache.
	require.NoError(t, store.SaveRunner(&datastore.Runner{
		ID: "runner-1", RaceID: race.ID, BibNumber: "341",
		FirstName: "Renamed", LastName: "Runner",
	}))
	matches, err = p.SearchByBibNumber("341")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NotNil(t, matches[0].Runner)
	assert.Equal(t, "Anna", matches[0].Runner.FirstName)

	_, err = p.SearchByBibNumber("")
	assert.Error(t, err)
}

func TestStatistics(t *testing.T) {
	t.Parallel()

	p, _ := newTestProcessor(t, &fakeDetector{response: twoRegionResponse()}, &fakeRecognizer{}, nil)

	photo := createPendingPhoto(t, p)
	require.NoError(t, p.ProcessPhoto(context.Background(), photo.ID))

	stats, err := p.Statistics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalDetections)
	require.Len(t, stats.ByBibNumber, 1)
	assert.Equal(t, "341", stats.ByBibNumber[0].BibNumber)
}
