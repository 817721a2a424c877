package region

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growlabs/bibscan-go/internal/geometry"
)

// uniformImage returns a w x h image filled with a single gray value.
func uniformImage(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// stripeImage alternates black and white columns.
func stripeImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if x%2 == 1 {
				v = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestExtract(t *testing.T) {
	t.Parallel()

	img := uniformImage(100, 80, 128)

	buf, err := Extract(img, geometry.Rect{Left: 10, Top: 10, Width: 30, Height: 20})
	require.NoError(t, err)
	assert.Equal(t, 30, buf.Width)
	assert.Equal(t, 20, buf.Height)
	assert.Equal(t, 30, buf.Image.Bounds().Dx())
	assert.Equal(t, 20, buf.Image.Bounds().Dy())
}

func TestExtractClampsToImage(t *testing.T) {
	t.Parallel()

	img := uniformImage(100, 80, 128)

	// Rect extends past the right and bottom edges; crop shrinks to fit.
	buf, err := Extract(img, geometry.Rect{Left: 90, Top: 70, Width: 50, Height: 50})
	require.NoError(t, err)
	assert.Equal(t, 10, buf.Width)
	assert.Equal(t, 10, buf.Height)
}

func TestExtractOutOfBounds(t *testing.T) {
	t.Parallel()

	img := uniformImage(100, 80, 128)

	_, err := Extract(img, geometry.Rect{Left: 200, Top: 200, Width: 50, Height: 50})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegionOutOfBounds)
}

func TestAnalyzeUniform(t *testing.T) {
	t.Parallel()

	buf, err := Extract(uniformImage(40, 40, 200), geometry.Rect{Width: 40, Height: 40})
	require.NoError(t, err)

	a, err := Analyze(buf)
	require.NoError(t, err)

	// A flat region has no variance and no edges.
	assert.InDelta(t, 200, a.MeanIntensity, 1)
	assert.InDelta(t, 0, a.StdIntensity, 0.001)
	assert.InDelta(t, 0, a.EdgeDensity, 0.001)
	assert.InDelta(t, 1600, a.Area, 0.001)
}

func TestAnalyzeStripes(t *testing.T) {
	t.Parallel()

	buf, err := Extract(stripeImage(40, 40), geometry.Rect{Width: 40, Height: 40})
	require.NoError(t, err)

	a, err := Analyze(buf)
	require.NoError(t, err)

	// Alternating black/white columns: mean near mid-gray, strong contrast,
	// nearly every adjacent pair crosses the edge threshold.
	assert.InDelta(t, 127.5, a.MeanIntensity, 2)
	assert.Greater(t, a.StdIntensity, 100.0)
	assert.Greater(t, a.EdgeDensity, 0.9)
}

func TestAnalyzeNilBuffer(t *testing.T) {
	t.Parallel()

	_, err := Analyze(nil)
	assert.Error(t, err)
}
