// Package unit normalises the measurement units found on estimate lines and
// guided price catalogues, and answers whether two units are comparable.
// Factors are exact rationals so chained conversions never drift.
package unit

import (
	"math/big"
	"strings"

	"golang.org/x/text/width"
)

type family int

const (
	famUnknown family = iota
	famLength
	famArea
	famVolume
	famMass
	famCount
	famSheet
)

type def struct {
	family family
	// factor converts one of this unit into the family base unit
	// (m, m2, m3, kg, piece).
	factor *big.Rat
}

func rat(a, b int64) *big.Rat { return big.NewRat(a, b) }

var units = map[string]def{
	"mm": {famLength, rat(1, 1000)},
	"cm": {famLength, rat(1, 100)},
	"m":  {famLength, rat(1, 1)},
	"km": {famLength, rat(1000, 1)},

	"mm2": {famArea, rat(1, 1000000)},
	"cm2": {famArea, rat(1, 10000)},
	"m2":  {famArea, rat(1, 1)},

	"ml": {famVolume, rat(1, 1000000)},
	"l":  {famVolume, rat(1, 1000)},
	"m3": {famVolume, rat(1, 1)},

	"g":  {famMass, rat(1, 1000)},
	"kg": {famMass, rat(1, 1)},
	"t":  {famMass, rat(1000, 1)},

	"piece": {famCount, rat(1, 1)},
	"pair":  {famCount, rat(2, 1)},
	"dozen": {famCount, rat(12, 1)},

	"sheet": {famSheet, rat(1, 1)},
}

var aliases = map[string]string{
	"毫米": "mm",
	"厘米": "cm",
	"公分": "cm",
	"米":  "m",
	"千米": "km",
	"公里": "km",

	"mm²": "mm2", "平方毫米": "mm2",
	"cm²": "cm2", "平方厘米": "cm2",
	"m²": "m2", "㎡": "m2", "平方米": "m2", "平米": "m2", "平方": "m2",

	"毫升": "ml",
	"升":  "l",
	"m³": "m3", "立方米": "m3", "立方": "m3", "方": "m3",

	"克":  "g",
	"千克": "kg", "公斤": "kg",
	"吨": "t",

	"个": "piece", "只": "piece", "件": "piece", "套": "piece",
	"根": "piece", "条": "piece", "支": "piece", "台": "piece",
	"座": "piece", "樘": "piece", "组": "piece",
	"pc": "piece", "pcs": "piece", "ea": "piece",
	"对": "pair",
	"打": "dozen",

	"张": "sheet", "片": "sheet", "块": "sheet",
}

// Normalize maps a raw unit spelling to its canonical name. Unknown units
// come back trimmed and lowercased so equality still works for them.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(width.Narrow.String(raw)))
	if alias, ok := aliases[s]; ok {
		return alias
	}
	return s
}

// Known reports whether the unit belongs to a conversion family.
func Known(raw string) bool {
	_, ok := units[Normalize(raw)]
	return ok
}

// Equal reports whether two spellings name the same canonical unit.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Factor returns the exact multiplier converting one `from` into `to`.
// It fails when either unit is unknown or the families differ.
func Factor(from, to string) (*big.Rat, bool) {
	df, ok := units[Normalize(from)]
	if !ok {
		return nil, false
	}
	dt, ok := units[Normalize(to)]
	if !ok {
		return nil, false
	}
	if df.family != dt.family || df.family == famUnknown {
		return nil, false
	}
	return new(big.Rat).Quo(df.factor, dt.factor), true
}

// Convertible reports whether a value in `from` can be restated in `to`.
func Convertible(from, to string) bool {
	if Equal(from, to) {
		return true
	}
	_, ok := Factor(from, to)
	return ok
}

// Convert restates value from one unit in another.
func Convert(value float64, from, to string) (float64, bool) {
	f, ok := Factor(from, to)
	if !ok {
		return 0, false
	}
	out := new(big.Rat).Mul(new(big.Rat).SetFloat64(value), f)
	res, _ := out.Float64()
	return res, true
}

// ConvertUnitPrice restates a per-`in` price as a per-`out` price. One `out`
// equals factor `in` units, so the price scales by that factor. Sheet units
// bridge to area when the specification carries dimensions.
func ConvertUnitPrice(price float64, out, in, spec string) (float64, bool) {
	if Equal(out, in) {
		return price, true
	}
	if f, ok := Factor(out, in); ok {
		v, _ := f.Float64()
		return price * v, true
	}
	if f, ok := SheetFactor(out, in, spec); ok {
		v, _ := f.Float64()
		return price * v, true
	}
	return 0, false
}
