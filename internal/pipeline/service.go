package pipeline

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/growlabs/bibscan-go/internal/datastore"
	"github.com/growlabs/bibscan-go/internal/errors"
)

func newID() string {
	return uuid.New().String()
}

// CreatePhotoOptions carries upload metadata for a new photo.
type CreatePhotoOptions struct {
	RaceID       string
	UploaderID   string
	OriginalName string
	MimeType     string
}

// CreatePhoto registers a local image file as a pending photo. The file must
// already exist; processing is scheduled separately via EnqueueProcessing.
func (p *Processor) CreatePhoto(localPath string, opts CreatePhotoOptions) (*datastore.Photo, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, errors.Newf("photo file not accessible: %w", err).
			Category(errors.CategoryFileIO).
			FileContext(localPath, 0).
			Build()
	}

	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(localPath)))
	}
	originalName := opts.OriginalName
	if originalName == "" {
		originalName = filepath.Base(localPath)
	}

	photoID := newID()
	storedPath := localPath
	if dir := p.Settings.Pipeline.UploadDir; dir != "" {
		staged, err := stageUpload(localPath, dir, photoID)
		if err != nil {
			return nil, err
		}
		storedPath = staged
	}

	photo := &datastore.Photo{
		ID:           photoID,
		URL:          storedPath,
		OriginalName: originalName,
		MimeType:     mimeType,
		SizeBytes:    info.Size(),
		RaceID:       opts.RaceID,
		UploaderID:   opts.UploaderID,
		Status:       datastore.StatusPending,
	}
	if err := p.Store.CreatePhoto(photo); err != nil {
		return nil, err
	}

	serviceLogger.Info("photo created",
		"photo_id", photo.ID,
		"original_name", photo.OriginalName,
		"size_bytes", photo.SizeBytes)
	return photo, nil
}

// stageUpload copies a source image into the upload directory so the original
// file stays untouched while the pipeline owns the staged copy.
func stageUpload(srcPath, dir, photoID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Newf("failed to create upload directory: %w", err).
			Category(errors.CategoryFileIO).
			Context("upload_dir", dir).
			Build()
	}

	dstPath := filepath.Join(dir, photoID+strings.ToLower(filepath.Ext(srcPath)))
	src, err := os.Open(srcPath)
	if err != nil {
		return "", errors.Newf("failed to open photo file: %w", err).
			Category(errors.CategoryFileIO).
			FileContext(srcPath, 0).
			Build()
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", errors.Newf("failed to stage photo file: %w", err).
			Category(errors.CategoryFileIO).
			FileContext(dstPath, 0).
			Build()
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return "", errors.Newf("failed to stage photo file: %w", err).
			Category(errors.CategoryFileIO).
			FileContext(dstPath, 0).
			Build()
	}
	if err := dst.Close(); err != nil {
		return "", errors.Newf("failed to stage photo file: %w", err).
			Category(errors.CategoryFileIO).
			FileContext(dstPath, 0).
			Build()
	}
	return dstPath, nil
}

// DeletePhoto removes a photo, its detections, and best-effort its remote
// asset and local file. Remote cleanup failures are logged, never blocking.
func (p *Processor) DeletePhoto(ctx context.Context, photoID string) error {
	photo, err := p.Store.GetPhoto(photoID)
	if err != nil {
		return err
	}

	if p.Assets != nil {
		if assetID := firstAssetID(photo.Detections); assetID != "" {
			if err := p.Assets.Delete(ctx, assetID); err != nil {
				serviceLogger.Warn("remote asset deletion failed",
					"photo_id", photoID,
					"asset_id", assetID,
					"error", err)
			}
		}
	}

	// The URL still points at a local file when the asset was never uploaded.
	if !strings.HasPrefix(photo.URL, "http") {
		if err := os.Remove(photo.URL); err != nil && !os.IsNotExist(err) {
			serviceLogger.Warn("local file removal failed",
				"photo_id", photoID,
				"path", photo.URL,
				"error", err)
		}
	}

	return p.Store.DeletePhoto(photoID)
}

func firstAssetID(detections []datastore.Detection) string {
	for i := range detections {
		if detections[i].AssetID != "" {
			return detections[i].AssetID
		}
	}
	return ""
}

// SearchMatch pairs a photo with the runner wearing the searched bib, when
// the runner is known for the photo's race.
type SearchMatch struct {
	Photo  datastore.Photo
	Runner *datastore.Runner
}

// SearchByBibNumber returns processed photos showing the bib number, with
// runner details resolved through a short-lived cache.
func (p *Processor) SearchByBibNumber(bibNumber string) ([]SearchMatch, error) {
	if bibNumber == "" {
		return nil, errors.ValidationError("bib number must not be empty")
	}

	photos, err := p.Store.SearchPhotosByBibNumber(bibNumber)
	if err != nil {
		return nil, err
	}

	matches := make([]SearchMatch, 0, len(photos))
	for i := range photos {
		matches = append(matches, SearchMatch{
			Photo:  photos[i],
			Runner: p.lookupRunner(photos[i].RaceID, bibNumber),
		})
	}
	return matches, nil
}

// lookupRunner resolves a bib number to a runner within a race, caching hits.
func (p *Processor) lookupRunner(raceID, bibNumber string) *datastore.Runner {
	if raceID == "" {
		return nil
	}

	cacheKey := raceID + "/" + bibNumber
	if cached, found := p.runnerCache.Get(cacheKey); found {
		runner := cached.(datastore.Runner)
		return &runner
	}

	runner, err := p.Store.RunnerByBibNumber(raceID, bibNumber)
	if err != nil {
		return nil
	}
	p.runnerCache.Set(cacheKey, *runner, 0)
	return runner
}

// Statistics reports total detections and per-bib aggregates.
func (p *Processor) Statistics() (*datastore.Statistics, error) {
	return p.Store.DetectionStatistics()
}
