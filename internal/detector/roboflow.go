// Package detector calls the hosted Roboflow inference API to locate bib
// regions in race photos.
package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/errors"
	"github.com/growlabs/bibscan-go/internal/logging"
)

// Package-level logger specific to the detector service
var serviceLogger *slog.Logger

func init() {
	var err error
	logFilePath := filepath.Join("logs", "detector.log")

	serviceLogger, _, err = logging.NewFileLogger(logFilePath, "detector", slog.LevelDebug)
	if err != nil {
		log.Printf("Failed to initialize detector file logger at %s: %v. Using default logger.", logFilePath, err)
		serviceLogger = slog.Default().With("service", "detector")
	}
}

// ErrUnavailable marks detector failures that abort the whole photo:
// the API could not be reached or refused the request.
var ErrUnavailable = errors.NewStd("bib detector unavailable")

// Prediction is one detected bib region. X and Y are the box center in
// source-image pixels.
type Prediction struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Confidence  float64 `json:"confidence"`
	Class       string  `json:"class"`
	ClassID     int     `json:"class_id"`
	DetectionID string  `json:"detection_id"`
}

// Response is the inference result for one photo.
type Response struct {
	Predictions []Prediction `json:"predictions"`
	Image       struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"image"`
	Time float64 `json:"time"`
}

// Interface defines what methods a bib detector must have.
type Interface interface {
	Detect(ctx context.Context, imagePath string) (*Response, error)
}

// Client holds the configuration for the Roboflow inference API.
type Client struct {
	Settings   *conf.Settings
	BaseURL    string
	ModelID    string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a Roboflow client from settings. The HTTP client carries the
// configured timeout to prevent hanging requests.
func New(settings *conf.Settings) *Client {
	timeout := settings.Detector.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		Settings:   settings,
		BaseURL:    strings.TrimRight(settings.Detector.BaseURL, "/"),
		ModelID:    settings.Detector.ModelID,
		APIKey:     settings.Detector.APIKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Detect posts the image as base64 to the hosted model and returns its
// predictions. Any transport or API failure wraps ErrUnavailable.
func (c *Client) Detect(ctx context.Context, imagePath string) (*Response, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, errors.Newf("reading image for detection: %w", err).
			Category(errors.CategoryFileIO).
			FileContext(imagePath, 0).
			Build()
	}

	endpoint := fmt.Sprintf("%s/%s?api_key=%s", c.BaseURL, c.ModelID, url.QueryEscape(c.APIKey))
	body := base64.StdEncoding.EncodeToString(imageData)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, errors.Newf("building detector request: %w", err).
			Category(errors.CategoryDetector).
			Build()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		serviceLogger.Error("detector request failed", "model", c.ModelID, "error", err)
		return nil, errors.Newf("%w: %w", ErrUnavailable, err).
			Category(errors.CategoryDetector).
			NetworkContext(c.BaseURL, c.HTTPClient.Timeout).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serviceLogger.Error("detector returned non-OK status",
			"model", c.ModelID,
			"status", resp.StatusCode,
			"body", string(respBody))
		return nil, errors.Newf("%w: status %d", ErrUnavailable, resp.StatusCode).
			Category(errors.CategoryDetector).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Newf("%w: decoding response: %w", ErrUnavailable, err).
			Category(errors.CategoryDetector).
			Build()
	}

	serviceLogger.Debug("detection completed",
		"model", c.ModelID,
		"predictions", len(result.Predictions),
		"duration_ms", time.Since(start).Milliseconds())

	return &result, nil
}
