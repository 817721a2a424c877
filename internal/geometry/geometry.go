// Package geometry converts detector bounding boxes into crop rectangles.
//
// Detector predictions are center-based (x, y is the box center); crops are
// corner-based with optional padding, clamped so offsets never go negative.
package geometry

import (
	"math"

	"github.com/growlabs/bibscan-go/internal/errors"
)

// ErrInvalidGeometry indicates a bounding box with negative dimensions.
var ErrInvalidGeometry = errors.NewStd("invalid geometry: negative dimensions")

// Rect is a corner-based crop rectangle in source-image pixel space.
type Rect struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// CropRect converts a center-based bounding box to a padded crop rectangle.
// Left and top are clamped to zero so the rectangle never starts outside the
// image; width and height grow by twice the padding.
func CropRect(centerX, centerY, width, height, padding float64) (Rect, error) {
	if width < 0 || height < 0 || padding < 0 {
		return Rect{}, errors.New(ErrInvalidGeometry).
			Category(errors.CategoryGeometry).
			Context("width", width).
			Context("height", height).
			Context("padding", padding).
			Build()
	}

	left := math.Round(centerX - width/2 - padding)
	top := math.Round(centerY - height/2 - padding)

	return Rect{
		Left:   int(math.Max(0, left)),
		Top:    int(math.Max(0, top)),
		Width:  int(math.Round(width + 2*padding)),
		Height: int(math.Round(height + 2*padding)),
	}, nil
}

// Clamp restricts the rectangle to an image of the given dimensions. The
// returned rectangle may have zero width or height when it lies entirely
// outside the image.
func (r Rect) Clamp(imageWidth, imageHeight int) Rect {
	left := min(max(r.Left, 0), imageWidth)
	top := min(max(r.Top, 0), imageHeight)

	width := r.Width
	if left+width > imageWidth {
		width = imageWidth - left
	}
	height := r.Height
	if top+height > imageHeight {
		height = imageHeight - top
	}
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}

	return Rect{Left: left, Top: top, Width: width, Height: height}
}

// Area returns the pixel area of the rectangle.
func (r Rect) Area() int {
	return r.Width * r.Height
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}
