package recognizer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"

	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/growlabs/bibscan-go/internal/errors"
)

// Preprocessing constants, tuned for small printed digits on bib cloth.
const (
	contrastGain   = 1.5
	contrastOffset = -64
	binarizeLevel  = 128
	sharpenSigma   = 1.0
	maxBibDigits   = 6
)

// Engine runs OCR over a preprocessed PNG. Text confidence is 0-1.
type Engine interface {
	Recognize(ctx context.Context, pngData []byte) (text string, confidence float64, err error)
}

// TesseractEngine is the gosseract-backed Engine. A fresh client is created
// per call; gosseract clients are not safe for concurrent use.
type TesseractEngine struct {
	Language string
}

func (t *TesseractEngine) Recognize(_ context.Context, pngData []byte) (string, float64, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.Language); err != nil {
		return "", 0, errors.Newf("setting OCR language: %w", err).
			Category(errors.CategoryOCR).
			Context("language", t.Language).
			Build()
	}
	if err := client.SetWhitelist("0123456789"); err != nil {
		return "", 0, errors.Newf("setting OCR whitelist: %w", err).
			Category(errors.CategoryOCR).
			Build()
	}
	if err := client.SetImageFromBytes(pngData); err != nil {
		return "", 0, errors.Newf("loading OCR image: %w", err).
			Category(errors.CategoryOCR).
			Build()
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, errors.Newf("running OCR: %w", err).
			Category(errors.CategoryOCR).
			Build()
	}

	// Word confidences come back 0-100; average them.
	confidence := 0.0
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err == nil && len(boxes) > 0 {
		sum := 0.0
		for i := range boxes {
			sum += boxes[i].Confidence
		}
		confidence = sum / float64(len(boxes)) / 100.0
	}

	return text, confidence, nil
}

// OCRRecognizer reads the bib number off the region with Tesseract. The
// reported confidence is the mean of the detector and OCR confidences.
type OCRRecognizer struct {
	engine      Engine
	scaleFactor int
}

// NewOCRRecognizer builds an OCR recognizer. A nil engine gets the default
// Tesseract engine for the given language.
func NewOCRRecognizer(engine Engine, language string, scaleFactor int) *OCRRecognizer {
	if engine == nil {
		engine = &TesseractEngine{Language: language}
	}
	if scaleFactor < 1 {
		scaleFactor = 1
	}
	return &OCRRecognizer{engine: engine, scaleFactor: scaleFactor}
}

func (o *OCRRecognizer) Recognize(ctx context.Context, in Input) (*Result, error) {
	if in.Buffer == nil || in.Buffer.Image == nil {
		return nil, errors.Newf("ocr: nil region buffer").
			Category(errors.CategoryOCR).
			Build()
	}

	pngData, err := encodePNG(Preprocess(in.Buffer.Image, o.scaleFactor))
	if err != nil {
		return nil, err
	}

	text, ocrConfidence, err := o.engine.Recognize(ctx, pngData)
	if err != nil {
		return nil, err
	}

	digits := stripNonDigits(text)
	if len(digits) == 0 || len(digits) > maxBibDigits {
		serviceLogger.Debug("ocr text rejected",
			"raw_text", text,
			"digits", digits)
		return nil, nil
	}

	return &Result{
		BibNumber:  digits,
		Confidence: (in.DetectorConfidence + ocrConfidence) / 2,
		Method:     MethodOCR,
	}, nil
}

// Preprocess prepares a cropped bib region for OCR: upscale with Lanczos,
// grayscale, stretch the histogram to full range, boost contrast, sharpen,
// then binarize.
func Preprocess(img image.Image, scaleFactor int) image.Image {
	b := img.Bounds()
	scaled := imaging.Resize(img, b.Dx()*scaleFactor, b.Dy()*scaleFactor, imaging.Lanczos)
	gray := imaging.Grayscale(scaled)
	stretched := stretchHistogram(gray)
	contrasted := imaging.AdjustFunc(stretched, func(c color.NRGBA) color.NRGBA {
		v := clampByte(contrastGain*float64(c.R) + contrastOffset)
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
	sharpened := imaging.Sharpen(contrasted, sharpenSigma)
	return segment.Threshold(sharpened, binarizeLevel)
}

// stretchHistogram maps the observed gray range onto [0, 255]. A flat image
// is returned unchanged.
func stretchHistogram(img *image.NRGBA) *image.NRGBA {
	lo, hi := uint8(255), uint8(0)
	for y := 0; y < img.Bounds().Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+img.Bounds().Dx()*4]
		for x := 0; x < img.Bounds().Dx(); x++ {
			v := row[x*4]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if hi <= lo {
		return img
	}

	scale := 255.0 / float64(hi-lo)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := clampByte(float64(c.R-lo) * scale)
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func stripNonDigits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Newf("encoding region for OCR: %w", err).
			Category(errors.CategoryImageProcessing).
			Build()
	}
	return buf.Bytes(), nil
}
