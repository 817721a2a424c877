// Package region crops candidate bib regions out of source photos and
// computes the grayscale statistics consumed by the recognizer heuristics.
package region

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/growlabs/bibscan-go/internal/errors"
	"github.com/growlabs/bibscan-go/internal/geometry"
)

// edgeDelta is the minimum intensity difference between adjacent samples for
// the pair to count as an edge, out of 255.
const edgeDelta = 30

// ErrRegionOutOfBounds indicates a crop rectangle with no overlap with the image.
var ErrRegionOutOfBounds = errors.NewStd("region out of bounds: clamped rectangle has zero area")

// Buffer holds a cropped region ready for analysis or recognition.
type Buffer struct {
	Image  *image.NRGBA
	Width  int
	Height int
}

// Analysis contains the grayscale statistics of a region.
type Analysis struct {
	MeanIntensity float64 // mean gray value, 0-255
	StdIntensity  float64 // standard deviation of gray values
	EdgeDensity   float64 // fraction of adjacent sample pairs with delta > edgeDelta
	Area          float64 // pixel count of the region
}

// Open loads an image from disk. Format support comes from the imaging
// library (JPEG, PNG, GIF, TIFF, BMP).
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Newf("opening image: %w", err).
			Category(errors.CategoryImageProcessing).
			FileContext(path, 0).
			Build()
	}
	return img, nil
}

// Extract crops the image to the given rectangle, clamped to image bounds.
// It fails with ErrRegionOutOfBounds when the clamped rectangle covers no
// pixels.
func Extract(img image.Image, rect geometry.Rect) (*Buffer, error) {
	bounds := img.Bounds()
	clamped := rect.Clamp(bounds.Dx(), bounds.Dy())
	if clamped.Empty() {
		return nil, errors.New(ErrRegionOutOfBounds).
			Category(errors.CategoryRegionExtract).
			Context("left", rect.Left).
			Context("top", rect.Top).
			Context("image_width", bounds.Dx()).
			Context("image_height", bounds.Dy()).
			Build()
	}

	cropped := imaging.Crop(img, image.Rect(
		clamped.Left,
		clamped.Top,
		clamped.Left+clamped.Width,
		clamped.Top+clamped.Height,
	))

	return &Buffer{
		Image:  cropped,
		Width:  clamped.Width,
		Height: clamped.Height,
	}, nil
}

// Analyze converts the region to grayscale and computes its intensity and
// edge statistics. Statistics are taken over the flattened row-major sample
// buffer, so edge pairs include the wrap from one row to the next.
func Analyze(buf *Buffer) (Analysis, error) {
	if buf == nil || buf.Image == nil {
		return Analysis{}, errors.Newf("analyze: nil region buffer").
			Category(errors.CategoryImageProcessing).
			Build()
	}

	gray := imaging.Grayscale(buf.Image)
	samples := graySamples(gray)
	if len(samples) == 0 {
		return Analysis{}, errors.Newf("analyze: region has no pixels").
			Category(errors.CategoryImageProcessing).
			Build()
	}

	var sum float64
	for _, v := range samples {
		sum += float64(v)
	}
	mean := sum / float64(len(samples))

	var variance float64
	for _, v := range samples {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(samples))

	edgeCount := 0
	for i := 1; i < len(samples); i++ {
		delta := int(samples[i]) - int(samples[i-1])
		if delta < 0 {
			delta = -delta
		}
		if delta > edgeDelta {
			edgeCount++
		}
	}

	return Analysis{
		MeanIntensity: mean,
		StdIntensity:  math.Sqrt(variance),
		EdgeDensity:   float64(edgeCount) / float64(len(samples)),
		Area:          float64(len(samples)),
	}, nil
}

// graySamples flattens the grayscale image into one value per pixel. After
// imaging.Grayscale the R, G and B channels are equal, so the red channel is
// the gray value.
func graySamples(img *image.NRGBA) []uint8 {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	samples := make([]uint8, 0, w*h)
	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := range w {
			samples = append(samples, row[x*4])
		}
	}
	return samples
}
