// Package pipeline drives a photo from upload through bib detection,
// recognition, persistence and asset upload.
package pipeline

import (
	"context"
	"image"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"

	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/datastore"
	"github.com/growlabs/bibscan-go/internal/detector"
	"github.com/growlabs/bibscan-go/internal/errors"
	"github.com/growlabs/bibscan-go/internal/geometry"
	"github.com/growlabs/bibscan-go/internal/jobqueue"
	"github.com/growlabs/bibscan-go/internal/logging"
	"github.com/growlabs/bibscan-go/internal/observability/metrics"
	"github.com/growlabs/bibscan-go/internal/recognizer"
	"github.com/growlabs/bibscan-go/internal/region"
	"github.com/growlabs/bibscan-go/internal/storage"
)

// Package-level logger specific to the pipeline service
var serviceLogger *slog.Logger

func init() {
	var err error
	logFilePath := filepath.Join("logs", "pipeline.log")

	serviceLogger, _, err = logging.NewFileLogger(logFilePath, "pipeline", slog.LevelDebug)
	if err != nil {
		log.Printf("Failed to initialize pipeline file logger at %s: %v. Using default logger.", logFilePath, err)
		serviceLogger = slog.Default().With("service", "pipeline")
	}
}

// Pipeline stages, used as log fields and metric labels.
const (
	StageUploaded       = "uploaded"
	StageDetecting      = "detecting_regions"
	StageRecognizing    = "recognizing"
	StagePersisting     = "persisting"
	StageUploadingAsset = "uploading_asset"
	StageCompleted      = "completed"
	StageFailed         = "failed"
)

// runnerCacheTTL bounds how long runner lookups are reused by search.
const runnerCacheTTL = 5 * time.Minute

// Processor wires the detector, recognizer, datastore and asset storage into
// the photo processing pipeline.
type Processor struct {
	Settings   *conf.Settings
	Store      datastore.Interface
	Detector   detector.Interface
	Recognizer recognizer.Recognizer
	Assets     storage.Interface // nil disables asset upload
	Metrics    *metrics.PipelineMetrics

	queue       *jobqueue.JobQueue
	sem         *semaphore.Weighted
	photoLocks  sync.Map // photo id -> *sync.Mutex
	runnerCache *gocache.Cache
	active      sync.WaitGroup
}

// New assembles a processor from its parts. The recognizer is built from
// settings when nil: "matching" uses the fingerprint table alone, "ocr"
// chains Tesseract with a matching fallback.
func New(settings *conf.Settings, store datastore.Interface, det detector.Interface,
	rec recognizer.Recognizer, assets storage.Interface, m *metrics.PipelineMetrics) (*Processor, error) {

	if rec == nil {
		var err error
		rec, err = buildRecognizer(settings)
		if err != nil {
			return nil, err
		}
	}

	workers := settings.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}

	return &Processor{
		Settings:    settings,
		Store:       store,
		Detector:    det,
		Recognizer:  rec,
		Assets:      assets,
		Metrics:     m,
		queue:       jobqueue.NewJobQueue(settings.Pipeline.QueueSize),
		sem:         semaphore.NewWeighted(int64(workers)),
		runnerCache: gocache.New(runnerCacheTTL, 2*runnerCacheTTL),
	}, nil
}

func buildRecognizer(settings *conf.Settings) (recognizer.Recognizer, error) {
	fingerprints := recognizer.DefaultFingerprints()
	if len(settings.Recognizer.Fingerprints) > 0 {
		fingerprints = make([]recognizer.Fingerprint, 0, len(settings.Recognizer.Fingerprints))
		for _, fp := range settings.Recognizer.Fingerprints {
			fingerprints = append(fingerprints, recognizer.Fingerprint{
				Bib:         fp.Bib,
				Confidence:  fp.Confidence,
				AreaMin:     fp.AreaMin,
				AreaMax:     fp.AreaMax,
				Contrast:    fp.Contrast,
				EdgeDensity: fp.EdgeDensity,
			})
		}
	}

	matching, err := recognizer.NewMatchingRecognizer(fingerprints)
	if err != nil {
		return nil, err
	}

	if settings.Recognizer.Engine == "matching" {
		return matching, nil
	}
	return &recognizer.FallbackRecognizer{
		Primary:  recognizer.NewOCRRecognizer(nil, settings.Recognizer.Language, settings.Recognizer.ScaleFactor),
		Fallback: matching,
	}, nil
}

// Start begins background job processing.
func (p *Processor) Start(ctx context.Context) {
	p.queue.StartWithContext(ctx)
}

// Stop drains the job queue and waits for in-flight photos.
func (p *Processor) Stop() error {
	err := p.queue.Stop()
	p.active.Wait()
	return err
}

// QueueStats exposes the job queue statistics.
func (p *Processor) QueueStats() jobqueue.Stats {
	return p.queue.GetStats()
}

// processAction adapts ProcessPhoto to the job queue.
type processAction struct {
	processor *Processor
}

func (a *processAction) Execute(ctx context.Context, data any) error {
	photoID, ok := data.(string)
	if !ok {
		return errors.Newf("process action expects a photo id, got %T", data).
			Category(errors.CategoryJobQueue).
			Build()
	}
	return a.processor.ProcessPhoto(ctx, photoID)
}

func (a *processAction) Description() string { return "process photo" }

// EnqueueProcessing schedules background processing for a stored photo and
// returns without waiting for it.
func (p *Processor) EnqueueProcessing(photoID string) (*jobqueue.Job, error) {
	return p.queue.Enqueue(&processAction{processor: p}, photoID, jobqueue.RetryConfig{
		Enabled:      true,
		MaxRetries:   2,
		InitialDelay: 5 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
	})
}

// ProcessPhoto runs the full pipeline for one photo. Detections accumulate
// across runs; use ReprocessPhoto to replace earlier results.
func (p *Processor) ProcessPhoto(ctx context.Context, photoID string) error {
	p.active.Add(1)
	defer p.active.Done()

	start := time.Now()
	if p.Metrics != nil {
		p.Metrics.IncActivePhotos()
		defer p.Metrics.DecActivePhotos()
	}

	photo, err := p.Store.GetPhoto(photoID)
	if err != nil {
		return err
	}

	localPath := photo.URL
	photo.Status = datastore.StatusProcessing
	if err := p.Store.UpdatePhoto(photo); err != nil {
		return err
	}

	serviceLogger.Info("processing photo", "photo_id", photo.ID, "stage", StageUploaded, "path", localPath)

	// Detection is photo-fatal: without regions there is nothing to recognize.
	detections, err := p.detectAndRecognize(ctx, photo, localPath)
	if err != nil {
		p.markFailed(photo, err)
		if p.Metrics != nil {
			p.Metrics.RecordPhotoProcessed(StageFailed, time.Since(start).Seconds())
		}
		return err
	}

	p.persistDetections(photo, detections)

	// Asset upload is photo-fatal too: the local file stays for a retry and
	// the photo must not look processed while its URL points at local disk.
	if err := p.uploadAsset(ctx, photo, localPath); err != nil {
		p.markFailed(photo, err)
		if p.Metrics != nil {
			p.Metrics.RecordPhotoProcessed(StageFailed, time.Since(start).Seconds())
		}
		return err
	}

	now := time.Now()
	photo.Status = datastore.StatusCompleted
	photo.FailureReason = ""
	photo.IsProcessed = true
	photo.ProcessedAt = &now
	if err := p.Store.UpdatePhoto(photo); err != nil {
		return err
	}

	if p.Metrics != nil {
		p.Metrics.RecordPhotoProcessed(StageCompleted, time.Since(start).Seconds())
	}
	serviceLogger.Info("photo processed",
		"photo_id", photo.ID,
		"stage", StageCompleted,
		"detections", len(detections),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// ReprocessPhoto re-runs the pipeline for a photo, replacing its earlier
// detections. A per-photo lock keeps concurrent reprocess calls from
// interleaving deletes and inserts.
func (p *Processor) ReprocessPhoto(ctx context.Context, photoID string) error {
	lock := p.photoLock(photoID)
	lock.Lock()
	defer lock.Unlock()

	if err := p.Store.DeleteDetectionsByPhoto(photoID); err != nil {
		return err
	}
	return p.ProcessPhoto(ctx, photoID)
}

func (p *Processor) photoLock(photoID string) *sync.Mutex {
	lock, _ := p.photoLocks.LoadOrStore(photoID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// detectAndRecognize runs the detector and recognizes every accepted region
// with bounded parallelism. Per-region failures are logged and skipped.
func (p *Processor) detectAndRecognize(ctx context.Context, photo *datastore.Photo, localPath string) ([]*datastore.Detection, error) {
	stageStart := time.Now()
	serviceLogger.Debug("detecting regions", "photo_id", photo.ID, "stage", StageDetecting)

	resp, err := p.Detector.Detect(ctx, localPath)
	if err != nil {
		return nil, err
	}
	if p.Metrics != nil {
		p.Metrics.RecordRegionsDetected(len(resp.Predictions))
		p.Metrics.RecordStageDuration(StageDetecting, time.Since(stageStart).Seconds())
	}

	img, err := region.Open(localPath)
	if err != nil {
		return nil, err
	}

	threshold := p.Settings.Detector.ConfidenceThreshold
	accepted := make([]detector.Prediction, 0, len(resp.Predictions))
	for _, pred := range resp.Predictions {
		if pred.Confidence < threshold {
			if p.Metrics != nil {
				p.Metrics.RecordRegionRejected("low_confidence")
			}
			serviceLogger.Debug("region below confidence threshold",
				"photo_id", photo.ID,
				"confidence", pred.Confidence,
				"threshold", threshold)
			continue
		}
		accepted = append(accepted, pred)
	}

	stageStart = time.Now()
	serviceLogger.Debug("recognizing regions",
		"photo_id", photo.ID,
		"stage", StageRecognizing,
		"regions", len(accepted))

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		detections []*datastore.Detection
	)
	for i := range accepted {
		pred := accepted[i]

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, errors.Newf("acquiring recognition slot: %w", err).
				Category(errors.CategoryPipeline).
				Build()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.sem.Release(1)

			detection := p.recognizeRegion(ctx, photo, img, &pred)
			if detection == nil {
				return
			}
			mu.Lock()
			detections = append(detections, detection)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if p.Metrics != nil {
		p.Metrics.RecordStageDuration(StageRecognizing, time.Since(stageStart).Seconds())
	}
	return detections, nil
}

// recognizeRegion handles one prediction end to end. Failures are logged and
// reported as nil so the remaining regions keep going.
func (p *Processor) recognizeRegion(ctx context.Context, photo *datastore.Photo, img image.Image, pred *detector.Prediction) *datastore.Detection {
	padding := float64(p.Settings.Recognizer.CropPadding)

	rect, err := geometry.CropRect(pred.X, pred.Y, pred.Width, pred.Height, padding)
	if err != nil {
		p.rejectRegion(photo.ID, "invalid_geometry", err)
		return nil
	}

	buf, err := region.Extract(img, rect)
	if err != nil {
		p.rejectRegion(photo.ID, "extract_failed", err)
		return nil
	}

	stats, err := region.Analyze(buf)
	if err != nil {
		p.rejectRegion(photo.ID, "analyze_failed", err)
		return nil
	}

	result, err := p.Recognizer.Recognize(ctx, recognizer.Input{
		Buffer:             buf,
		Stats:              stats,
		DetectorConfidence: pred.Confidence,
	})
	if err != nil {
		p.rejectRegion(photo.ID, "recognize_failed", err)
		return nil
	}
	if result == nil {
		if p.Metrics != nil {
			p.Metrics.RecordRegionRejected("no_bib_number")
		}
		return nil
	}

	if p.Metrics != nil {
		p.Metrics.RecordBibRecognized(result.Method)
	}
	serviceLogger.Debug("bib recognized",
		"photo_id", photo.ID,
		"bib_number", result.BibNumber,
		"method", result.Method,
		"confidence", result.Confidence)

	return &datastore.Detection{
		ID:                 newID(),
		PhotoID:            photo.ID,
		BibNumber:          result.BibNumber,
		Confidence:         result.Confidence,
		DetectorConfidence: pred.Confidence,
		Method:             result.Method,
		X:                  pred.X,
		Y:                  pred.Y,
		Width:              pred.Width,
		Height:             pred.Height,
		ClassID:            pred.ClassID,
		DetectionID:        pred.DetectionID,
	}
}

func (p *Processor) rejectRegion(photoID, reason string, err error) {
	if p.Metrics != nil {
		p.Metrics.RecordRegionRejected(reason)
	}
	serviceLogger.Warn("region skipped", "photo_id", photoID, "reason", reason, "error", err)
}

// persistDetections saves each detection independently; one failed insert
// does not abandon the rest.
func (p *Processor) persistDetections(photo *datastore.Photo, detections []*datastore.Detection) {
	stageStart := time.Now()
	serviceLogger.Debug("persisting detections",
		"photo_id", photo.ID,
		"stage", StagePersisting,
		"count", len(detections))

	saved := 0
	for _, detection := range detections {
		if err := p.Store.SaveDetection(detection); err != nil {
			serviceLogger.Error("failed to save detection",
				"photo_id", photo.ID,
				"bib_number", detection.BibNumber,
				"error", err)
			continue
		}
		saved++
	}
	if saved < len(detections) {
		serviceLogger.Warn("some detections were not persisted",
			"photo_id", photo.ID,
			"saved", saved,
			"total", len(detections))
	}
	if p.Metrics != nil {
		p.Metrics.RecordStageDuration(StagePersisting, time.Since(stageStart).Seconds())
	}
}

// uploadAsset pushes the photo to remote storage. On success the photo URL
// points at the remote asset and the local file is removed; on failure the
// local file stays and the error propagates so the photo is marked failed.
func (p *Processor) uploadAsset(ctx context.Context, photo *datastore.Photo, localPath string) error {
	if p.Assets == nil {
		return nil
	}

	stageStart := time.Now()
	serviceLogger.Debug("uploading asset", "photo_id", photo.ID, "stage", StageUploadingAsset)

	result, err := p.Assets.Upload(ctx, localPath, p.Settings.Storage.Folder)
	if err != nil {
		serviceLogger.Error("asset upload failed, keeping local file",
			"photo_id", photo.ID,
			"path", localPath,
			"error", err)
		return errors.Newf("asset upload failed: %w", err).
			Category(errors.CategoryAssetUpload).
			Context("photo_id", photo.ID).
			Build()
	}

	photo.URL = result.URL
	if err := p.Store.SetDetectionAssetID(photo.ID, result.AssetID); err != nil {
		serviceLogger.Error("failed to record asset id on detections",
			"photo_id", photo.ID,
			"asset_id", result.AssetID,
			"error", err)
	}

	if err := os.Remove(localPath); err != nil {
		serviceLogger.Warn("failed to remove local file after upload",
			"photo_id", photo.ID,
			"path", localPath,
			"error", err)
	}
	if p.Metrics != nil {
		p.Metrics.RecordStageDuration(StageUploadingAsset, time.Since(stageStart).Seconds())
	}
	return nil
}

func (p *Processor) markFailed(photo *datastore.Photo, cause error) {
	photo.Status = datastore.StatusFailed
	photo.FailureReason = cause.Error()
	if err := p.Store.UpdatePhoto(photo); err != nil {
		serviceLogger.Error("failed to mark photo as failed",
			"photo_id", photo.ID,
			"error", err)
	}
	serviceLogger.Error("photo processing failed",
		"photo_id", photo.ID,
		"stage", StageFailed,
		"error", cause)
}
