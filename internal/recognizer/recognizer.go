// Package recognizer turns a cropped bib region into a bib number.
//
// Two strategies are provided: OCR through Tesseract and heuristic
// fingerprint matching over the region statistics. Strategy selection and
// fallback chaining happen at pipeline assembly, driven by configuration.
package recognizer

import (
	"context"
	"log/slog"

	"github.com/growlabs/bibscan-go/internal/logging"
	"github.com/growlabs/bibscan-go/internal/region"
)

var serviceLogger *slog.Logger

func init() {
	serviceLogger = logging.ForService("recognizer")
	if serviceLogger == nil {
		serviceLogger = slog.Default().With("service", "recognizer")
	}
}

// Recognition methods reported in Result.Method.
const (
	MethodOCR      = "ocr"
	MethodMatching = "intelligent_matching"
	MethodFallback = "fallback"
)

// Input is one candidate region with its detector confidence and grayscale
// statistics.
type Input struct {
	Buffer             *region.Buffer
	Stats              region.Analysis
	DetectorConfidence float64
}

// Result is a recognized bib number. A nil *Result from Recognize means the
// region yielded no usable number.
type Result struct {
	BibNumber  string
	Confidence float64
	Method     string
}

// Recognizer extracts a bib number from a region. Implementations return
// (nil, nil) when the region is readable but contains no recognizable
// number; errors are reserved for engine failures.
type Recognizer interface {
	Recognize(ctx context.Context, in Input) (*Result, error)
}

// FallbackRecognizer tries the primary recognizer and falls back to the
// secondary when the primary errors or finds nothing. Primary errors are
// logged, not propagated, so an unavailable OCR engine degrades to matching
// instead of failing the region.
type FallbackRecognizer struct {
	Primary  Recognizer
	Fallback Recognizer
}

func (f *FallbackRecognizer) Recognize(ctx context.Context, in Input) (*Result, error) {
	result, err := f.Primary.Recognize(ctx, in)
	if err != nil {
		serviceLogger.Warn("primary recognizer failed, falling back",
			"error", err,
			"detector_confidence", in.DetectorConfidence)
	} else if result != nil {
		return result, nil
	}
	return f.Fallback.Recognize(ctx, in)
}
