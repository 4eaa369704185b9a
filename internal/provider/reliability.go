package provider

import (
	"strings"

	"github.com/spf13/cast"
)

// Source reliability arrives as star glyphs, numerics on unknown scales, or
// nothing. The weight feeds the fused-band average, so it stays in
// [0.2, 1.0] with 0.5 for anything unreadable.

const (
	reliabilityDefault = 0.5
	reliabilityFloor   = 0.2
	reliabilityCeil    = 1.0
)

// ReliabilityWeight converts a reliability string to a fused-band weight.
func ReliabilityWeight(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return reliabilityDefault
	}

	if filled := strings.Count(s, "★"); filled > 0 || strings.Contains(s, "☆") {
		return clampWeight(float64(filled) / 5)
	}

	if f, err := cast.ToFloat64E(s); err == nil {
		switch {
		case f > 100:
			f = f / 1000
		case f > 10:
			f = f / 100
		default:
			f = f / 10
		}
		return clampWeight(f)
	}

	return reliabilityDefault
}

func clampWeight(w float64) float64 {
	if w < reliabilityFloor {
		return reliabilityFloor
	}
	if w > reliabilityCeil {
		return reliabilityCeil
	}
	return w
}
