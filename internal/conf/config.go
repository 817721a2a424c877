// config.go: settings struct and functions to load and save the configuration.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig contains settings for the main application log file.
type LogConfig struct {
	Enabled bool   // true to enable main log file
	Path    string // path to main log file
}

// MainSettings contains top level application settings.
type MainSettings struct {
	Name string    // name of this node, used in log records
	Log  LogConfig // main log file settings
}

// SQLiteSettings contains settings for the SQLite database.
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite
	Path    string // path to the SQLite database file
}

// MySQLSettings contains settings for the MySQL database.
type MySQLSettings struct {
	Enabled  bool   // true to enable MySQL
	Username string // MySQL username
	Password string // MySQL password
	Database string // MySQL database name
	Host     string // MySQL host
	Port     string // MySQL port
}

// DatabaseSettings groups the supported database backends. Exactly one
// backend must be enabled.
type DatabaseSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// DetectorSettings contains settings for the remote object detection service.
type DetectorSettings struct {
	APIKey              string        `yaml:"apikey"`  // detector API key
	ModelID             string        `yaml:"modelid"` // hosted model identifier, e.g. "bib-detection/2"
	BaseURL             string        `yaml:"baseurl"` // detection endpoint base URL
	ConfidenceThreshold float64       // minimum detector confidence for a region to be considered
	Timeout             time.Duration // request timeout
}

// FingerprintSettings describes the matching criteria for one known bib number.
type FingerprintSettings struct {
	Bib         string  // bib number this fingerprint belongs to
	Confidence  float64 // minimum detector confidence
	AreaMin     float64 // minimum region area in pixels
	AreaMax     float64 // maximum region area in pixels
	Contrast    float64 // minimum intensity standard deviation
	EdgeDensity float64 // minimum edge density
}

// RecognizerSettings contains settings for bib number recognition.
type RecognizerSettings struct {
	Engine       string                // "ocr" or "matching"
	Language     string                // OCR language, e.g. "eng"
	CropPadding  int                   // padding in pixels added around detector regions
	ScaleFactor  int                   // upscale factor applied before OCR
	Fingerprints []FingerprintSettings // overrides the built-in fingerprint table when set
}

// StorageSettings contains settings for the remote asset storage service.
type StorageSettings struct {
	CloudName string        `yaml:"cloudname"` // storage account / cloud name
	APIKey    string        `yaml:"apikey"`    // storage API key
	APISecret string        `yaml:"apisecret"` // storage API secret
	Folder    string        // remote folder photos are uploaded to
	Timeout   time.Duration // request timeout
}

// PipelineSettings contains settings for the photo processing pipeline.
type PipelineSettings struct {
	Workers   int    // maximum concurrent region recognitions per photo
	QueueSize int    // background job queue capacity
	UploadDir string // directory for locally staged uploads
}

// Settings contains all runtime settings for the application.
type Settings struct {
	Debug bool // true to enable debug logging

	Main       MainSettings
	Database   DatabaseSettings
	Detector   DetectorSettings
	Recognizer RecognizerSettings
	Storage    StorageSettings
	Pipeline   PipelineSettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into the settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	defaults := &Settings{}
	if err := viper.Unmarshal(defaults); err != nil {
		return fmt.Errorf("error unmarshaling defaults: %w", err)
	}

	yamlData, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, yamlData, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the paths where a config file is searched for,
// in order of precedence: working directory first, then the user config dir.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error resolving user config directory: %w", err)
	}

	return []string{
		".",
		filepath.Join(configDir, "bibscan"),
	}, nil
}

// ValidateSettings checks the loaded settings for inconsistencies that would
// prevent the application from operating.
func ValidateSettings(settings *Settings) error {
	if settings.Database.SQLite.Enabled && settings.Database.MySQL.Enabled {
		return errors.New("only one database backend may be enabled")
	}
	if !settings.Database.SQLite.Enabled && !settings.Database.MySQL.Enabled {
		return errors.New("no database backend enabled")
	}

	if t := settings.Detector.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("detector confidence threshold %.2f out of range [0, 1]", t)
	}

	switch settings.Recognizer.Engine {
	case "ocr", "matching":
	default:
		return fmt.Errorf("unknown recognizer engine %q", settings.Recognizer.Engine)
	}

	if settings.Recognizer.ScaleFactor < 1 {
		return fmt.Errorf("recognizer scale factor must be >= 1, got %d", settings.Recognizer.ScaleFactor)
	}
	if settings.Recognizer.CropPadding < 0 {
		return fmt.Errorf("recognizer crop padding must be >= 0, got %d", settings.Recognizer.CropPadding)
	}

	if settings.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be >= 1, got %d", settings.Pipeline.Workers)
	}

	for i := range settings.Recognizer.Fingerprints {
		fp := &settings.Recognizer.Fingerprints[i]
		if fp.Bib == "" {
			return fmt.Errorf("fingerprint %d has no bib number", i)
		}
		if fp.AreaMin > fp.AreaMax {
			return fmt.Errorf("fingerprint for bib %s has inverted area range", fp.Bib)
		}
	}

	return nil
}

// GetSettings returns the current settings instance, or nil if Load has not
// been called.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting is a shorthand for GetSettings.
func Setting() *Settings {
	return GetSettings()
}
