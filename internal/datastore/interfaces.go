// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/errors"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation and defines the
// operations the rest of the application may perform.
type Interface interface {
	Open() error
	Close() error

	// photos
	CreatePhoto(photo *Photo) error
	GetPhoto(id string) (*Photo, error)
	UpdatePhoto(photo *Photo) error
	DeletePhoto(id string) error
	ListPhotos(limit, offset int) ([]Photo, error)
	PhotosByRace(raceID string) ([]Photo, error)
	PhotosByUploader(uploaderID string) ([]Photo, error)
	SearchPhotosByBibNumber(bibNumber string) ([]Photo, error)

	// detections
	SaveDetection(detection *Detection) error
	DetectionsByPhoto(photoID string) ([]Detection, error)
	DetectionsByBibNumber(bibNumber string) ([]Detection, error)
	DeleteDetectionsByPhoto(photoID string) error
	SetDetectionAssetID(photoID, assetID string) error
	DetectionStatistics() (*Statistics, error)

	// reference data
	SaveRace(race *Race) error
	SaveRunner(runner *Runner) error
	RunnersByRace(raceID string) ([]Runner, error)
	RunnerByBibNumber(raceID, bibNumber string) (*Runner, error)
	SaveUser(user *User) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a store for whichever database backend is enabled in settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Database.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Database.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// CreatePhoto inserts a new photo row.
func (ds *DataStore) CreatePhoto(photo *Photo) error {
	if err := ds.DB.Create(photo).Error; err != nil {
		return dbError(err, "creating photo", photo.ID)
	}
	return nil
}

// GetPhoto retrieves a photo with its detections.
func (ds *DataStore) GetPhoto(id string) (*Photo, error) {
	var photo Photo
	err := ds.DB.Preload("Detections").First(&photo, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundError("photo", id)
		}
		return nil, dbError(err, "getting photo", id)
	}
	return &photo, nil
}

// UpdatePhoto saves all fields of the photo row.
func (ds *DataStore) UpdatePhoto(photo *Photo) error {
	if err := ds.DB.Save(photo).Error; err != nil {
		return dbError(err, "updating photo", photo.ID)
	}
	return nil
}

// DeletePhoto removes the photo and, through the cascade, its detections.
func (ds *DataStore) DeletePhoto(id string) error {
	result := ds.DB.Where("photo_id = ?", id).Delete(&Detection{})
	if result.Error != nil {
		return dbError(result.Error, "deleting photo detections", id)
	}
	if err := ds.DB.Delete(&Photo{}, "id = ?", id).Error; err != nil {
		return dbError(err, "deleting photo", id)
	}
	return nil
}

// ListPhotos returns photos ordered newest first.
func (ds *DataStore) ListPhotos(limit, offset int) ([]Photo, error) {
	var photos []Photo
	query := ds.DB.Order("created_at DESC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&photos).Error; err != nil {
		return nil, dbError(err, "listing photos", "")
	}
	return photos, nil
}

// PhotosByRace returns all photos for one race.
func (ds *DataStore) PhotosByRace(raceID string) ([]Photo, error) {
	var photos []Photo
	err := ds.DB.Where("race_id = ?", raceID).Order("created_at DESC").Find(&photos).Error
	if err != nil {
		return nil, dbError(err, "listing photos by race", raceID)
	}
	return photos, nil
}

// PhotosByUploader returns all photos uploaded by one user.
func (ds *DataStore) PhotosByUploader(uploaderID string) ([]Photo, error) {
	var photos []Photo
	err := ds.DB.Where("uploader_id = ?", uploaderID).Order("created_at DESC").Find(&photos).Error
	if err != nil {
		return nil, dbError(err, "listing photos by uploader", uploaderID)
	}
	return photos, nil
}

// SearchPhotosByBibNumber returns processed photos in which the given bib
// number was detected. Unprocessed photos are excluded even when they already
// have detection rows.
func (ds *DataStore) SearchPhotosByBibNumber(bibNumber string) ([]Photo, error) {
	var photos []Photo
	err := ds.DB.
		Joins("JOIN detections ON detections.photo_id = photos.id").
		Where("detections.bib_number = ? AND photos.is_processed = ?", bibNumber, true).
		Group("photos.id").
		Order("photos.created_at DESC").
		Find(&photos).Error
	if err != nil {
		return nil, dbError(err, "searching photos by bib number", bibNumber)
	}
	return photos, nil
}

// SaveDetection inserts one detection row.
func (ds *DataStore) SaveDetection(detection *Detection) error {
	if err := ds.DB.Create(detection).Error; err != nil {
		return dbError(err, "saving detection", detection.PhotoID)
	}
	return nil
}

// DetectionsByPhoto returns the detections of one photo, oldest first.
func (ds *DataStore) DetectionsByPhoto(photoID string) ([]Detection, error) {
	var detections []Detection
	err := ds.DB.Where("photo_id = ?", photoID).Order("created_at ASC").Find(&detections).Error
	if err != nil {
		return nil, dbError(err, "listing detections by photo", photoID)
	}
	return detections, nil
}

// DetectionsByBibNumber returns every detection of one bib number.
func (ds *DataStore) DetectionsByBibNumber(bibNumber string) ([]Detection, error) {
	var detections []Detection
	err := ds.DB.Where("bib_number = ?", bibNumber).Order("created_at DESC").Find(&detections).Error
	if err != nil {
		return nil, dbError(err, "listing detections by bib number", bibNumber)
	}
	return detections, nil
}

// DeleteDetectionsByPhoto removes all detections of one photo.
func (ds *DataStore) DeleteDetectionsByPhoto(photoID string) error {
	if err := ds.DB.Where("photo_id = ?", photoID).Delete(&Detection{}).Error; err != nil {
		return dbError(err, "deleting detections by photo", photoID)
	}
	return nil
}

// SetDetectionAssetID records the remote asset id on every detection of the
// photo once the asset upload has succeeded.
func (ds *DataStore) SetDetectionAssetID(photoID, assetID string) error {
	err := ds.DB.Model(&Detection{}).
		Where("photo_id = ?", photoID).
		Update("asset_id", assetID).Error
	if err != nil {
		return dbError(err, "setting detection asset id", photoID)
	}
	return nil
}

// DetectionStatistics returns the total detection count and per-bib counts
// with average confidence, most frequent bib first.
func (ds *DataStore) DetectionStatistics() (*Statistics, error) {
	stats := &Statistics{}

	if err := ds.DB.Model(&Detection{}).Count(&stats.TotalDetections).Error; err != nil {
		return nil, dbError(err, "counting detections", "")
	}

	err := ds.DB.Model(&Detection{}).
		Select("bib_number, COUNT(*) as count, AVG(confidence) as avg_confidence").
		Group("bib_number").
		Order("count DESC, bib_number ASC").
		Scan(&stats.ByBibNumber).Error
	if err != nil {
		return nil, dbError(err, "aggregating detections", "")
	}

	return stats, nil
}

// SaveRace upserts a race row.
func (ds *DataStore) SaveRace(race *Race) error {
	if err := ds.DB.Save(race).Error; err != nil {
		return dbError(err, "saving race", race.ID)
	}
	return nil
}

// SaveRunner upserts a runner row.
func (ds *DataStore) SaveRunner(runner *Runner) error {
	if err := ds.DB.Save(runner).Error; err != nil {
		return dbError(err, "saving runner", runner.ID)
	}
	return nil
}

// RunnersByRace lists the runners of one race ordered by bib number.
func (ds *DataStore) RunnersByRace(raceID string) ([]Runner, error) {
	var runners []Runner
	err := ds.DB.Where("race_id = ?", raceID).Order("bib_number ASC").Find(&runners).Error
	if err != nil {
		return nil, dbError(err, "listing runners by race", raceID)
	}
	return runners, nil
}

// RunnerByBibNumber finds the runner wearing a bib in one race.
func (ds *DataStore) RunnerByBibNumber(raceID, bibNumber string) (*Runner, error) {
	var runner Runner
	err := ds.DB.Where("race_id = ? AND bib_number = ?", raceID, bibNumber).First(&runner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundError("runner", bibNumber)
		}
		return nil, dbError(err, "getting runner by bib number", bibNumber)
	}
	return &runner, nil
}

// SaveUser upserts a user row.
func (ds *DataStore) SaveUser(user *User) error {
	if err := ds.DB.Save(user).Error; err != nil {
		return dbError(err, "saving user", user.ID)
	}
	return nil
}

func dbError(err error, operation, id string) error {
	builder := errors.Newf("%s: %w", operation, err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)
	if id != "" {
		builder = builder.Context("id", id)
	}
	return builder.Build()
}
