package provider

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/model"
)

// LLM output is free-form text that should contain one JSON object. The
// extractor finds the first balanced brace pair, string-aware, and the
// decoder tolerates the field-name drift the vendors exhibit.

// ExtractJSON returns the first balanced {...} object embedded in s.
func ExtractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

type rawResponse struct {
	PriceRange struct {
		MinPrice any `json:"min_price"`
		MaxPrice any `json:"max_price"`
	} `json:"price_range"`
	ConfidenceScore any              `json:"confidence_score"`
	DataSources     []map[string]any `json:"data_sources"`
	Reasoning       string           `json:"reasoning"`
	RiskFactors     []string         `json:"risk_factors"`
	ReferenceURLs   []string         `json:"reference_urls"`
}

// ParseResponse decodes a provider's raw text into a Result. When no JSON
// object can be recovered it returns a text-only result with low confidence
// and ParseError set, never an error.
func ParseResponse(raw string) *Result {
	res := &Result{RawResponse: raw}

	doc, ok := ExtractJSON(raw)
	if !ok {
		res.ParseError = true
		res.Confidence = 0.3
		res.Reasoning = strings.TrimSpace(raw)
		return res
	}

	var parsed rawResponse
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		zap.L().Warn("provider response JSON did not decode",
			zap.Error(err))
		res.ParseError = true
		res.Confidence = 0.3
		res.Reasoning = strings.TrimSpace(raw)
		return res
	}

	res.PredictedPriceMin = looseFloat(parsed.PriceRange.MinPrice)
	res.PredictedPriceMax = looseFloat(parsed.PriceRange.MaxPrice)
	if c := looseFloat(parsed.ConfidenceScore); c != nil {
		res.Confidence = clamp01(*c)
	}
	res.Reasoning = strings.TrimSpace(parsed.Reasoning)
	res.RiskFactors = parsed.RiskFactors
	res.ReferenceURLs = parsed.ReferenceURLs
	res.DataSources = normaliseSources(parsed.DataSources, res.PredictedPriceMin, res.PredictedPriceMax)
	return res
}

// Alias sets seen in the wild for per-source band fields.
var (
	minAliases = []string{"price_range_min", "min_price", "price_min"}
	maxAliases = []string{"price_range_max", "max_price", "price_max"}
)

func normaliseSources(raw []map[string]any, itemMin, itemMax *float64) []model.DataSource {
	if len(raw) == 0 {
		return nil
	}

	sources := make([]model.DataSource, 0, len(raw))
	for _, m := range raw {
		ds := model.DataSource{
			SourceType:       cast.ToString(m["source_type"]),
			PlatformExamples: cast.ToString(m["platform_examples"]),
			SampleSize:       firstString(m, "sample_size", "data_count", "sample_description"),
			Reliability:      cast.ToString(m["reliability"]),
			Timeliness:       cast.ToString(m["timeliness"]),
			Notes:            cast.ToString(m["notes"]),
		}
		ds.PriceMin = firstFloat(m, minAliases)
		ds.PriceMax = firstFloat(m, maxAliases)

		if ds.PriceMin == nil || ds.PriceMax == nil {
			if itemMin != nil && itemMax != nil {
				zap.L().Warn("data source band missing, imputing from item band",
					zap.String("source_type", ds.SourceType))
				ds.PriceMin, ds.PriceMax = itemMin, itemMax
				ds.Imputed = true
			}
		}
		if ds.PriceMin != nil && ds.PriceMax != nil && *ds.PriceMin > *ds.PriceMax {
			ds.PriceMin, ds.PriceMax = ds.PriceMax, ds.PriceMin
		}
		sources = append(sources, ds)
	}
	return sources
}

func firstFloat(m map[string]any, keys []string) *float64 {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f := looseFloat(v); f != nil {
				return f
			}
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := cast.ToString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// looseFloat accepts numbers, numeric strings and currency-decorated strings.
func looseFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(strings.Trim(s, "元¥$ "))
		if s == "" {
			return nil
		}
		v = s
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil
	}
	return &f
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	// confidence sometimes arrives as a percentage
	if v > 1 {
		v = v / 100
	}
	if v > 1 {
		return 1
	}
	return v
}
