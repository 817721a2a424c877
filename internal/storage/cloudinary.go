// Package storage uploads processed photos to Cloudinary and removes them
// when photos are deleted.
package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/errors"
	"github.com/growlabs/bibscan-go/internal/logging"
)

// Package-level logger specific to the storage service
var serviceLogger *slog.Logger

func init() {
	var err error
	logFilePath := filepath.Join("logs", "storage.log")

	serviceLogger, _, err = logging.NewFileLogger(logFilePath, "storage", slog.LevelDebug)
	if err != nil {
		log.Printf("Failed to initialize storage file logger at %s: %v. Using default logger.", logFilePath, err)
		serviceLogger = slog.Default().With("service", "storage")
	}
}

// UploadResult describes the remote asset created for a photo.
type UploadResult struct {
	URL     string
	AssetID string
	Width   int
	Height  int
	Format  string
	Bytes   int64
}

// Interface defines what methods an asset store must have.
type Interface interface {
	Upload(ctx context.Context, localPath, folder string) (*UploadResult, error)
	Delete(ctx context.Context, assetID string) error
}

// Client talks to the Cloudinary upload API using signed requests.
type Client struct {
	Settings   *conf.Settings
	CloudName  string
	APIKey     string
	APISecret  string
	BaseURL    string
	HTTPClient *http.Client

	// now is overridable for deterministic signatures in tests.
	now func() time.Time
}

// New creates a Cloudinary client from settings.
func New(settings *conf.Settings) *Client {
	timeout := settings.Storage.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		Settings:   settings,
		CloudName:  settings.Storage.CloudName,
		APIKey:     settings.Storage.APIKey,
		APISecret:  settings.Storage.APISecret,
		BaseURL:    "https://api.cloudinary.com/v1_1",
		HTTPClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	Bytes     int64  `json:"bytes"`
}

// Upload sends the local file to Cloudinary under the given folder.
func (c *Client) Upload(ctx context.Context, localPath, folder string) (*UploadResult, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, errors.Newf("opening photo for upload: %w", err).
			Category(errors.CategoryFileIO).
			FileContext(localPath, 0).
			Build()
	}
	defer file.Close()

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	params := map[string]string{
		"timestamp": timestamp,
	}
	if folder != "" {
		params["folder"] = folder
	}
	signature := c.sign(params)

	var body strings.Builder
	writer := multipart.NewWriter(&body)
	for k, v := range params {
		if err := writer.WriteField(k, v); err != nil {
			return nil, errors.Newf("building upload form: %w", err).
				Category(errors.CategoryAssetUpload).
				Build()
		}
	}
	if err := writer.WriteField("api_key", c.APIKey); err != nil {
		return nil, errors.Newf("building upload form: %w", err).
			Category(errors.CategoryAssetUpload).
			Build()
	}
	if err := writer.WriteField("signature", signature); err != nil {
		return nil, errors.Newf("building upload form: %w", err).
			Category(errors.CategoryAssetUpload).
			Build()
	}
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return nil, errors.Newf("building upload form: %w", err).
			Category(errors.CategoryAssetUpload).
			Build()
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, errors.Newf("reading photo for upload: %w", err).
			Category(errors.CategoryFileIO).
			FileContext(localPath, 0).
			Build()
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Newf("finalizing upload form: %w", err).
			Category(errors.CategoryAssetUpload).
			Build()
	}

	endpoint := fmt.Sprintf("%s/%s/image/upload", c.BaseURL, c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.String()))
	if err != nil {
		return nil, errors.Newf("building upload request: %w", err).
			Category(errors.CategoryAssetUpload).
			Build()
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		serviceLogger.Error("asset upload failed", "path", localPath, "error", err)
		return nil, errors.Newf("uploading asset: %w", err).
			Category(errors.CategoryAssetUpload).
			NetworkContext(endpoint, c.HTTPClient.Timeout).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serviceLogger.Error("asset upload rejected",
			"path", localPath,
			"status", resp.StatusCode,
			"body", string(respBody))
		return nil, errors.Newf("uploading asset: status %d", resp.StatusCode).
			Category(errors.CategoryAssetUpload).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Newf("decoding upload response: %w", err).
			Category(errors.CategoryAssetUpload).
			Build()
	}

	serviceLogger.Info("asset uploaded",
		"path", localPath,
		"asset_id", parsed.PublicID,
		"bytes", parsed.Bytes)

	return &UploadResult{
		URL:     parsed.SecureURL,
		AssetID: parsed.PublicID,
		Width:   parsed.Width,
		Height:  parsed.Height,
		Format:  parsed.Format,
		Bytes:   parsed.Bytes,
	}, nil
}

// Delete removes a remote asset by its id.
func (c *Client) Delete(ctx context.Context, assetID string) error {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	params := map[string]string{
		"public_id": assetID,
		"timestamp": timestamp,
	}
	signature := c.sign(params)

	form := make([]string, 0, 4)
	for k, v := range params {
		form = append(form, k+"="+v)
	}
	form = append(form, "api_key="+c.APIKey, "signature="+signature)
	sort.Strings(form)

	endpoint := fmt.Sprintf("%s/%s/image/destroy", c.BaseURL, c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(strings.Join(form, "&")))
	if err != nil {
		return errors.Newf("building delete request: %w", err).
			Category(errors.CategoryAssetDelete).
			Build()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Newf("deleting asset %s: %w", assetID, err).
			Category(errors.CategoryAssetDelete).
			NetworkContext(endpoint, c.HTTPClient.Timeout).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("deleting asset %s: status %d", assetID, resp.StatusCode).
			Category(errors.CategoryAssetDelete).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return errors.Newf("decoding delete response: %w", err).
			Category(errors.CategoryAssetDelete).
			Build()
	}
	if result.Result != "ok" && result.Result != "not found" {
		return errors.Newf("deleting asset %s: result %q", assetID, result.Result).
			Category(errors.CategoryAssetDelete).
			Build()
	}

	serviceLogger.Info("asset deleted", "asset_id", assetID, "result", result.Result)
	return nil
}

// sign computes the Cloudinary request signature: parameters sorted by key,
// joined as a query string, with the API secret appended, SHA-1 hashed.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.APISecret))
	return hex.EncodeToString(sum[:])
}
