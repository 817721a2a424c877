package recognizer

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growlabs/bibscan-go/internal/errors"
	"github.com/growlabs/bibscan-go/internal/region"
)

// fakeEngine returns a canned OCR result.
type fakeEngine struct {
	text       string
	confidence float64
	err        error
}

func (f *fakeEngine) Recognize(_ context.Context, _ []byte) (string, float64, error) {
	return f.text, f.confidence, f.err
}

func testBuffer() *region.Buffer {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	return &region.Buffer{Image: img, Width: 20, Height: 10}
}

func ocrInput(detectorConfidence float64) Input {
	return Input{Buffer: testBuffer(), DetectorConfidence: detectorConfidence}
}

func TestOCRRecognizeDigits(t *testing.T) {
	t.Parallel()

	o := NewOCRRecognizer(&fakeEngine{text: "341", confidence: 0.9}, "eng", 6)

	result, err := o.Recognize(context.Background(), ocrInput(0.7))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "341", result.BibNumber)
	assert.Equal(t, MethodOCR, result.Method)
	// Combined confidence is the mean of detector and OCR confidence.
	assert.InDelta(t, 0.8, result.Confidence, 0.001)
}

func TestOCRStripsNonDigits(t *testing.T) {
	t.Parallel()

	o := NewOCRRecognizer(&fakeEngine{text: " AB12\n", confidence: 0.8}, "eng", 6)

	result, err := o.Recognize(context.Background(), ocrInput(0.6))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "12", result.BibNumber)
}

func TestOCRRejectsUnusableText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "letters only", text: "RUNNER"},
		{name: "too many digits", text: "1234567"},
		{name: "digits split across noise still too many", text: "12x34 56-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := NewOCRRecognizer(&fakeEngine{text: tt.text, confidence: 0.9}, "eng", 6)
			result, err := o.Recognize(context.Background(), ocrInput(0.7))
			require.NoError(t, err)
			assert.Nil(t, result)
		})
	}
}

func TestOCREngineFailure(t *testing.T) {
	t.Parallel()

	engineErr := errors.NewStd("tesseract not installed")
	o := NewOCRRecognizer(&fakeEngine{err: engineErr}, "eng", 6)

	result, err := o.Recognize(context.Background(), ocrInput(0.7))
	assert.Nil(t, result)
	assert.ErrorIs(t, err, engineErr)
}

func TestFallbackRecognizerOnEngineFailure(t *testing.T) {
	t.Parallel()

	matcher, err := NewMatchingRecognizer(DefaultFingerprints())
	require.NoError(t, err)

	chain := &FallbackRecognizer{
		Primary:  NewOCRRecognizer(&fakeEngine{err: errors.NewStd("engine down")}, "eng", 6),
		Fallback: matcher,
	}

	in := ocrInput(0.8)
	in.Stats = region.Analysis{Area: 14000, StdIntensity: 40, EdgeDensity: 0.07}

	result, err := chain.Recognize(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "341", result.BibNumber)
	assert.Equal(t, MethodMatching, result.Method)
}

func TestFallbackRecognizerPrefersPrimary(t *testing.T) {
	t.Parallel()

	matcher, err := NewMatchingRecognizer(DefaultFingerprints())
	require.NoError(t, err)

	chain := &FallbackRecognizer{
		Primary:  NewOCRRecognizer(&fakeEngine{text: "847", confidence: 0.95}, "eng", 6),
		Fallback: matcher,
	}

	result, err := chain.Recognize(context.Background(), ocrInput(0.8))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "847", result.BibNumber)
	assert.Equal(t, MethodOCR, result.Method)
}

func TestPreprocessScalesImage(t *testing.T) {
	t.Parallel()

	out := Preprocess(testBuffer().Image, 6)
	assert.Equal(t, 120, out.Bounds().Dx())
	assert.Equal(t, 60, out.Bounds().Dy())
}

func TestStripNonDigits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12", stripNonDigits("AB12"))
	assert.Equal(t, "0042", stripNonDigits(" 00 42 "))
	assert.Equal(t, "", stripNonDigits("no digits"))
}
