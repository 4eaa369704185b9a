package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/width"
)

// YearMonth is a month-precision date used for catalogue issue periods,
// base-price dates and contract windows.
type YearMonth struct {
	Year  int
	Month int
}

var yearMonthPattern = regexp.MustCompile(`^(\d{4})(?:[-/.年]?)(\d{1,2})月?$`)

// ParseYearMonth canonicalises the year-month spellings accepted on catalogue
// and project input: 2025-07, 2025/07, 2025.07, 2025年07月 and bare 202507.
// The month is clamped to [1,12].
func ParseYearMonth(s string) (YearMonth, error) {
	cleaned := strings.TrimSpace(width.Narrow.String(s))
	if cleaned == "" {
		return YearMonth{}, eris.New("yearmonth: empty value")
	}

	m := yearMonthPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return YearMonth{}, eris.Errorf("yearmonth: cannot parse %q", s)
	}

	year, err := strconv.Atoi(m[1])
	if err != nil {
		return YearMonth{}, eris.Wrapf(err, "yearmonth: year in %q", s)
	}
	month, err := strconv.Atoi(m[2])
	if err != nil {
		return YearMonth{}, eris.Wrapf(err, "yearmonth: month in %q", s)
	}
	if month < 1 {
		month = 1
	}
	if month > 12 {
		month = 12
	}

	return YearMonth{Year: year, Month: month}, nil
}

// MustYearMonth is a test helper; it panics on parse failure.
func MustYearMonth(s string) YearMonth {
	ym, err := ParseYearMonth(s)
	if err != nil {
		panic(err)
	}
	return ym
}

// IsZero reports whether the value is unset.
func (ym YearMonth) IsZero() bool {
	return ym.Year == 0 && ym.Month == 0
}

// String renders the canonical YYYY-MM form.
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// Compare returns -1, 0 or 1 ordering by year then month.
func (ym YearMonth) Compare(other YearMonth) int {
	if ym.Year != other.Year {
		if ym.Year < other.Year {
			return -1
		}
		return 1
	}
	if ym.Month != other.Month {
		if ym.Month < other.Month {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether ym precedes other.
func (ym YearMonth) Before(other YearMonth) bool { return ym.Compare(other) < 0 }

// After reports whether ym follows other.
func (ym YearMonth) After(other YearMonth) bool { return ym.Compare(other) > 0 }

// ContractWindow is an inclusive month range; either bound may be open.
type ContractWindow struct {
	Start *YearMonth
	End   *YearMonth
}

// Contains reports whether the period falls inside the window, treating open
// bounds as unbounded.
func (w ContractWindow) Contains(ym YearMonth) bool {
	if w.Start != nil && ym.Before(*w.Start) {
		return false
	}
	if w.End != nil && ym.After(*w.End) {
		return false
	}
	return true
}

// Validate rejects a window whose start follows its end.
func (w ContractWindow) Validate() error {
	if w.Start != nil && w.End != nil && w.Start.After(*w.End) {
		return eris.Errorf("contract window: start %s after end %s", w.Start, w.End)
	}
	return nil
}
