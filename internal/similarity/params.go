package similarity

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// Specification strings carry numeric parameters worth more than their raw
// text: dimensions, diameters, grades. Extracting them lets two spellings of
// the same product compare on substance.

type paramKind string

const (
	kindDimension paramKind = "dim"
	kindDiameter  paramKind = "dia"
	kindLengthMM  paramKind = "mm"
	kindLengthM   paramKind = "m"
	kindMassKG    paramKind = "kg"
	kindConcrete  paramKind = "concrete"
	kindSteel     paramKind = "steel"
)

type parameter struct {
	kind  paramKind
	value float64
}

var (
	dimensionPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[×xX*]\s*(\d+(?:\.\d+)?)(?:\s*[×xX*]\s*(\d+(?:\.\d+)?))?`)
	diameterPattern  = regexp.MustCompile(`[φΦ∅]\s*(\d+(?:\.\d+)?)|DN(\d+)`)
	lengthMMPattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*mm`)
	lengthMPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*m(?:[^m²2a-z]|$)`)
	massKGPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*kg`)
	concretePattern  = regexp.MustCompile(`\bC(\d{2,3})\b`)
	steelPattern     = regexp.MustCompile(`\bQ(\d{3})\b|HRB(\d{3})`)
)

func extractParams(spec string) []parameter {
	s := width.Narrow.String(spec)
	lower := strings.ToLower(s)

	var params []parameter

	for _, m := range dimensionPattern.FindAllStringSubmatch(s, -1) {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if v, err := strconv.ParseFloat(g, 64); err == nil {
				params = append(params, parameter{kindDimension, v})
			}
		}
	}
	for _, m := range diameterPattern.FindAllStringSubmatch(s, -1) {
		g := m[1]
		if g == "" {
			g = m[2]
		}
		if v, err := strconv.ParseFloat(g, 64); err == nil {
			params = append(params, parameter{kindDiameter, v})
		}
	}
	for _, m := range lengthMMPattern.FindAllStringSubmatch(lower, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			params = append(params, parameter{kindLengthMM, v})
		}
	}
	for _, m := range lengthMPattern.FindAllStringSubmatch(lower, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			params = append(params, parameter{kindLengthM, v})
		}
	}
	for _, m := range massKGPattern.FindAllStringSubmatch(lower, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			params = append(params, parameter{kindMassKG, v})
		}
	}
	for _, m := range concretePattern.FindAllStringSubmatch(s, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			params = append(params, parameter{kindConcrete, v})
		}
	}
	for _, m := range steelPattern.FindAllStringSubmatch(s, -1) {
		g := m[1]
		if g == "" {
			g = m[2]
		}
		if v, err := strconv.ParseFloat(g, 64); err == nil {
			params = append(params, parameter{kindSteel, v})
		}
	}

	return params
}

// relativeSimilarity compares two positive magnitudes by relative error.
func relativeSimilarity(a, b float64) float64 {
	if a == b {
		return 1
	}
	max := a
	if b > max {
		max = b
	}
	if max == 0 {
		return 1
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	s := 1 - diff/max
	if s < 0 {
		return 0
	}
	return s
}

// paramSimilarity pairs each parameter with its best same-kind counterpart
// and averages the pair scores. Parameters with no counterpart score zero.
func paramSimilarity(a, b []parameter) (float64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}

	short, long := a, b
	if len(long) < len(short) {
		short, long = long, short
	}

	total := 0.0
	for _, p := range short {
		best := 0.0
		for _, q := range long {
			if q.kind != p.kind {
				continue
			}
			if s := relativeSimilarity(p.value, q.value); s > best {
				best = s
			}
		}
		total += best
	}
	return total / float64(len(short)), true
}
