package storage

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growlabs/bibscan-go/internal/conf"
)

func testClient(t *testing.T) *Client {
	t.Helper()

	settings := &conf.Settings{}
	settings.Storage.CloudName = "demo"
	settings.Storage.APIKey = "key123"
	settings.Storage.APISecret = "secret456"
	settings.Storage.Timeout = 5 * time.Second

	c := New(settings)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	httpmock.ActivateNonDefault(c.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func testPhoto(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finish-line.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o644))
	return path
}

func TestUpload(t *testing.T) {
	c := testClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://api.cloudinary.com/v1_1/demo/image/upload",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "key123", req.FormValue("api_key"))
			assert.Equal(t, "race-photos", req.FormValue("folder"))
			assert.NotEmpty(t, req.FormValue("signature"))
			assert.NotEmpty(t, req.FormValue("timestamp"))

			return httpmock.NewStringResponse(http.StatusOK, `{
				"secure_url": "https://res.cloudinary.com/demo/image/upload/v1/race-photos/abc.jpg",
				"public_id": "race-photos/abc",
				"width": 640, "height": 480, "format": "jpg", "bytes": 10
			}`), nil
		})

	result, err := c.Upload(context.Background(), testPhoto(t), "race-photos")
	require.NoError(t, err)

	assert.Equal(t, "race-photos/abc", result.AssetID)
	assert.Equal(t, "https://res.cloudinary.com/demo/image/upload/v1/race-photos/abc.jpg", result.URL)
	assert.Equal(t, 640, result.Width)
	assert.Equal(t, int64(10), result.Bytes)
}

func TestUploadServerError(t *testing.T) {
	c := testClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://api.cloudinary.com/v1_1/demo/image/upload",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":{"message":"invalid signature"}}`))

	_, err := c.Upload(context.Background(), testPhoto(t), "race-photos")
	assert.Error(t, err)
}

func TestUploadMissingFile(t *testing.T) {
	c := testClient(t)

	_, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"), "race-photos")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	c := testClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://api.cloudinary.com/v1_1/demo/image/destroy",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			assert.Equal(t, "race-photos/abc", req.FormValue("public_id"))
			assert.Equal(t, "key123", req.FormValue("api_key"))
			return httpmock.NewStringResponse(http.StatusOK, `{"result":"ok"}`), nil
		})

	err := c.Delete(context.Background(), "race-photos/abc")
	assert.NoError(t, err)
}

func TestDeleteNotFoundIsAccepted(t *testing.T) {
	c := testClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://api.cloudinary.com/v1_1/demo/image/destroy",
		httpmock.NewStringResponder(http.StatusOK, `{"result":"not found"}`))

	// Already-deleted remote assets are not an error for photo cleanup.
	assert.NoError(t, c.Delete(context.Background(), "race-photos/gone"))
}

func TestDeleteFailure(t *testing.T) {
	c := testClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://api.cloudinary.com/v1_1/demo/image/destroy",
		httpmock.NewStringResponder(http.StatusOK, `{"result":"error"}`))

	assert.Error(t, c.Delete(context.Background(), "race-photos/abc"))
}

func TestSignatureIsDeterministic(t *testing.T) {
	c := testClient(t)

	sig1 := c.sign(map[string]string{"timestamp": "1700000000", "folder": "race-photos"})
	sig2 := c.sign(map[string]string{"folder": "race-photos", "timestamp": "1700000000"})
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 40)
}
