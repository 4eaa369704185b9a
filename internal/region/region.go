// Package region resolves administrative division codes to display names for
// provider prompts and reports.
package region

import (
	_ "embed"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Nationwide is the fallback scope when no locality can be resolved.
const Nationwide = "全国"

//go:embed regions.yaml
var regionsYAML []byte

type table struct {
	Provinces map[string]string `yaml:"provinces"`
	Cities    map[string]string `yaml:"cities"`
	Districts map[string]string `yaml:"districts"`
}

var (
	loadOnce sync.Once
	codes    table
)

func load() table {
	loadOnce.Do(func() {
		if err := yaml.Unmarshal(regionsYAML, &codes); err != nil {
			panic(err)
		}
	})
	return codes
}

func isCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func lookup(m map[string]string, codeOrName string) string {
	s := strings.TrimSpace(codeOrName)
	if s == "" {
		return ""
	}
	if !isCode(s) {
		return s
	}
	return m[s]
}

// ProvinceName resolves a province code; non-numeric input passes through.
func ProvinceName(codeOrName string) string { return lookup(load().Provinces, codeOrName) }

// CityName resolves a city code; non-numeric input passes through.
func CityName(codeOrName string) string { return lookup(load().Cities, codeOrName) }

// DistrictName resolves a district code; non-numeric input passes through.
func DistrictName(codeOrName string) string { return lookup(load().Districts, codeOrName) }

// Resolve builds the most specific readable locality from the project codes,
// falling back to the free-form location and finally to nationwide scope.
func Resolve(province, city, district, location string) string {
	var b strings.Builder
	if p := ProvinceName(province); p != "" {
		b.WriteString(p)
	}
	if c := CityName(city); c != "" {
		b.WriteString(c)
	}
	if d := DistrictName(district); d != "" {
		b.WriteString(d)
	}
	if b.Len() > 0 {
		return b.String()
	}
	if loc := strings.TrimSpace(location); loc != "" {
		return loc
	}
	return Nationwide
}
