package unit

import (
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// Board products are quoted per sheet in some catalogues and per square
// metre in others. When the specification carries the sheet dimensions the
// two units become convertible through the sheet's face area.

var dimPattern = regexp.MustCompile(
	`(\d+(?:\.\d+)?)\s*[×xX*]\s*(\d+(?:\.\d+)?)(?:\s*[×xX*]\s*(\d+(?:\.\d+)?))?\s*(mm|cm|m|毫米|厘米|米)?`)

// SheetArea extracts length-by-width dimensions from a specification string
// and returns the face area in square metres. Dimensions without an explicit
// unit are millimetres, unless both length and width are below 10 in which
// case they read as metres.
func SheetArea(spec string) (*big.Rat, bool) {
	cleaned := width.Narrow.String(strings.TrimSpace(spec))
	m := dimPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return nil, false
	}

	length, ok1 := new(big.Rat).SetString(m[1])
	wid, ok2 := new(big.Rat).SetString(m[2])
	if !ok1 || !ok2 {
		return nil, false
	}
	if length.Sign() <= 0 || wid.Sign() <= 0 {
		return nil, false
	}

	dimUnit := m[4]
	if dimUnit == "" {
		ten := big.NewRat(10, 1)
		if length.Cmp(ten) < 0 && wid.Cmp(ten) < 0 {
			dimUnit = "m"
		} else {
			dimUnit = "mm"
		}
	}

	factor, ok := Factor(dimUnit, "m")
	if !ok {
		return nil, false
	}

	area := new(big.Rat).Mul(length, factor)
	area.Mul(area, new(big.Rat).Mul(wid, factor))
	return area, true
}

// SheetFactor returns the multiplier converting between a per-sheet unit and
// a per-area unit when the specification yields the sheet dimensions. The
// direction follows from/to: sheet→area multiplies by the face area,
// area→sheet divides by it.
func SheetFactor(from, to, spec string) (*big.Rat, bool) {
	nf, nt := Normalize(from), Normalize(to)
	fromSheet := units[nf].family == famSheet && units[nt].family == famArea
	fromArea := units[nf].family == famArea && units[nt].family == famSheet
	if !fromSheet && !fromArea {
		return nil, false
	}

	area, ok := SheetArea(spec)
	if !ok {
		return nil, false
	}

	if fromSheet {
		// one sheet covers `area` of the base m2; rescale to target area unit
		f, _ := Factor("m2", to)
		return new(big.Rat).Mul(area, f), true
	}
	f, _ := Factor(from, "m2")
	inv := new(big.Rat).Quo(f, area)
	return inv, true
}

// ComparableWith reports whether two units can be compared for the given
// specification, including the sheet↔area bridge.
func ComparableWith(from, to, spec string) bool {
	if Convertible(from, to) {
		return true
	}
	_, ok := SheetFactor(from, to, spec)
	return ok
}
