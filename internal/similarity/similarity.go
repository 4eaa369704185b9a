// Package similarity scores how alike two material descriptors are, blending
// name text, specification parameters, category and unit compatibility into a
// single [0,1] score.
package similarity

import (
	"strings"

	"github.com/sells-group/price-audit/internal/unit"
)

// Channel weights for the overall score.
const (
	weightName     = 0.40
	weightSpec     = 0.30
	weightCategory = 0.20
	weightUnit     = 0.10
)

// Name sub-channel weights.
const (
	nameWeightEdit    = 0.3
	nameWeightPartial = 0.2
	nameWeightJaccard = 0.3
	nameWeightLCS     = 0.2
)

// Descriptor is the comparable surface of a material.
type Descriptor struct {
	Name          string
	Specification string
	Category      string
	Unit          string
}

// Score returns the weighted similarity of two descriptors in [0,1].
func Score(a, b Descriptor) float64 {
	return weightName*nameSimilarity(a.Name, b.Name) +
		weightSpec*specSimilarity(a.Specification, b.Specification) +
		weightCategory*categorySimilarity(a.Category, b.Category) +
		weightUnit*unitSimilarity(a.Unit, b.Unit)
}

func nameSimilarity(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		if a == b {
			return 1
		}
		return 0
	}
	return nameWeightEdit*editRatio(a, b) +
		nameWeightPartial*partialRatio(a, b) +
		nameWeightJaccard*jaccard(Tokenize(a), Tokenize(b)) +
		nameWeightLCS*lcsRatio(a, b)
}

func specSimilarity(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0.5
	}

	textScore := editRatio(tokenSortJoin(a), tokenSortJoin(b))
	if paramScore, ok := paramSimilarity(extractParams(a), extractParams(b)); ok {
		return (paramScore + textScore) / 2
	}
	return textScore
}

func unitSimilarity(a, b string) float64 {
	switch {
	case unit.Equal(a, b):
		return 1
	case unit.Convertible(a, b):
		return 0.8
	default:
		return 0
	}
}

func categorySimilarity(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	la, lb := []rune(a), []rune(b)
	short, long := a, b
	if len(la) > len(lb) {
		short, long = b, a
	}
	if strings.Contains(long, short) {
		sl, ll := len([]rune(short)), len([]rune(long))
		return float64(sl) / float64(ll)
	}
	return 0
}

// ConfidenceBand classifies a score against the audit thresholds.
type ConfidenceBand string

const (
	BandHigh     ConfidenceBand = "high"
	BandMedium   ConfidenceBand = "medium"
	BandLow      ConfidenceBand = "low"
	BandRejected ConfidenceBand = "rejected"
)

// Thresholds carries the tunable cut points for Classify.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultThresholds matches the audit defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Medium: 0.65, Low: 0.45}
}

// Classify maps a score to its confidence band.
func (t Thresholds) Classify(score float64) ConfidenceBand {
	switch {
	case score >= t.High:
		return BandHigh
	case score >= t.Medium:
		return BandMedium
	case score >= t.Low:
		return BandLow
	default:
		return BandRejected
	}
}
