// model.go this code defines the data model for the application
package datastore

import "time"

// Photo processing states. IsProcessed stays the externally observable flag;
// Status carries the finer-grained lifecycle.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Photo represents one uploaded race photo.
type Photo struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	URL           string // local path until upload, remote URL after
	OriginalName  string
	MimeType      string `gorm:"type:varchar(64)"`
	SizeBytes     int64
	RaceID        string `gorm:"index:idx_photos_race;type:varchar(36)"`
	UploaderID    string `gorm:"index:idx_photos_uploader;type:varchar(36)"`
	Status        string `gorm:"index:idx_photos_status;type:varchar(16)"`
	FailureReason string
	IsProcessed   bool `gorm:"index:idx_photos_processed"`
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Detections []Detection `gorm:"foreignKey:PhotoID;constraint:OnDelete:CASCADE"`
}

// Detection is one recognized bib number within a photo. X and Y are the
// detector's box center in source-image pixels. Confidence is the combined
// recognition score; DetectorConfidence keeps the raw detector value.
type Detection struct {
	ID                 string `gorm:"primaryKey;type:varchar(36)"`
	PhotoID            string `gorm:"index;not null;type:varchar(36)"`
	BibNumber          string `gorm:"index:idx_detections_bib;type:varchar(16)"`
	Confidence         float64
	DetectorConfidence float64
	Method             string `gorm:"type:varchar(32)"`
	X                  float64
	Y                  float64
	Width              float64
	Height             float64
	ClassID            int    // detector model class id
	DetectionID        string `gorm:"type:varchar(64)"` // detector-assigned detection id
	AssetID            string // remote asset id, filled in after upload
	CreatedAt          time.Time
}

// Race is an event photos belong to.
type Race struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Name      string
	Location  string
	Date      time.Time `gorm:"index"`
	CreatedAt time.Time
}

// Runner links a bib number to a participant within a race.
type Runner struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	RaceID    string `gorm:"index:idx_runners_race;uniqueIndex:idx_runners_race_bib;type:varchar(36)"`
	BibNumber string `gorm:"index:idx_runners_bib;uniqueIndex:idx_runners_race_bib;type:varchar(16)"`
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// User is a photo uploader.
type User struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	Email       string `gorm:"uniqueIndex;type:varchar(255)"`
	DisplayName string
	CreatedAt   time.Time
}

// BibStatistics aggregates detections for one bib number.
type BibStatistics struct {
	BibNumber     string  `json:"bibNumber"`
	Count         int64   `json:"count"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// Statistics summarizes all detections in the store.
type Statistics struct {
	TotalDetections int64           `json:"totalDetections"`
	ByBibNumber     []BibStatistics `json:"byBibNumber"`
}
