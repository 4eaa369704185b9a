package model

import (
	"time"
)

// AnalysisStatus tracks the lifecycle of a price analysis record.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// RiskLevel grades how far a reported price sits from its reference band.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels for sorting and aggregation; unknown levels sort
// below normal.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskNormal:
		return 1
	case RiskLow:
		return 2
	case RiskMedium:
		return 3
	case RiskHigh:
		return 4
	case RiskCritical:
		return 5
	}
	return 0
}

// Verdict is the final reasonability call on one material as rendered in
// reports and listings.
type Verdict string

const (
	VerdictMatchedReasonable Verdict = "matched_reasonable"
	VerdictMatchedAdjusted   Verdict = "matched_adjusted"
	VerdictAIReasonable      Verdict = "ai_reasonable"
	VerdictAIOver            Verdict = "ai_over"
	VerdictAIUnder           Verdict = "ai_under"
	VerdictAIAbnormal        Verdict = "ai_abnormal"
	VerdictIndeterminate     Verdict = "indeterminate"
	VerdictFailed            Verdict = "failed"
)

// ModelGuidedComparison tags analyses produced by the guided-price
// differential engine rather than an LLM provider.
const ModelGuidedComparison = "guided_price_comparison"

// DataSource is one evidence channel cited by a provider in its response.
// Reliability keeps the raw spelling; the parsed weight lives on the
// analysis pipeline, not the record.
type DataSource struct {
	SourceType       string   `json:"source_type"`
	PlatformExamples string   `json:"platform_examples,omitempty"`
	SampleSize       string   `json:"sample_size,omitempty"`
	Reliability      string   `json:"reliability,omitempty"`
	Timeliness       string   `json:"timeliness,omitempty"`
	PriceMin         *float64 `json:"price_range_min,omitempty"`
	PriceMax         *float64 `json:"price_range_max,omitempty"`
	Notes            string   `json:"notes,omitempty"`

	// Imputed marks fields that were filled with defaults rather than
	// reported by the provider.
	Imputed bool `json:"imputed,omitempty"`
}

// PriceAnalysis is the current analysis state for one material. At most one
// row exists per material; re-analysis overwrites it after the previous
// state is archived to history.
type PriceAnalysis struct {
	ID         string
	MaterialID string

	Status AnalysisStatus

	PredictedPriceMin *float64
	PredictedPriceMax *float64
	Confidence        *float64

	DataSources []DataSource
	Reasoning   string
	RiskFactors []string

	PriceVariance *float64
	RiskLevel     RiskLevel
	IsReasonable  *bool

	AnalysisModel  string
	AnalysisPrompt string
	APIResponse    map[string]any

	AnalysisTime float64
	AnalysisCost float64

	ErrorMessage string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	AnalyzedAt *time.Time
}

// HasBand reports whether both band endpoints are present.
func (a *PriceAnalysis) HasBand() bool {
	return a.PredictedPriceMin != nil && a.PredictedPriceMax != nil
}

// AnalysisHistory is an append-only full snapshot of a PriceAnalysis taken
// just before the row is overwritten.
type AnalysisHistory struct {
	ID         string
	AnalysisID string
	MaterialID string

	Status AnalysisStatus

	PredictedPriceMin *float64
	PredictedPriceMax *float64
	Confidence        *float64

	PriceVariance *float64
	RiskLevel     RiskLevel
	IsReasonable  *bool

	Reasoning     string
	AnalysisModel string
	AnalysisTime  float64
	AnalysisCost  float64

	AnalyzedAt *time.Time
	CreatedAt  time.Time
}

// Snapshot copies the archival fields of an analysis into a history row.
func (a *PriceAnalysis) Snapshot() AnalysisHistory {
	return AnalysisHistory{
		AnalysisID:        a.ID,
		MaterialID:        a.MaterialID,
		Status:            a.Status,
		PredictedPriceMin: a.PredictedPriceMin,
		PredictedPriceMax: a.PredictedPriceMax,
		Confidence:        a.Confidence,
		PriceVariance:     a.PriceVariance,
		RiskLevel:         a.RiskLevel,
		IsReasonable:      a.IsReasonable,
		Reasoning:         a.Reasoning,
		AnalysisModel:     a.AnalysisModel,
		AnalysisTime:      a.AnalysisTime,
		AnalysisCost:      a.AnalysisCost,
		AnalyzedAt:        a.AnalyzedAt,
	}
}

// SameOutcome reports whether a prior snapshot captures the same analytic
// outcome; used with a time threshold to suppress duplicate history rows.
func (h AnalysisHistory) SameOutcome(a *PriceAnalysis) bool {
	return h.Status == a.Status &&
		floatPtrEq(h.PredictedPriceMin, a.PredictedPriceMin) &&
		floatPtrEq(h.PredictedPriceMax, a.PredictedPriceMax) &&
		h.AnalysisModel == a.AnalysisModel
}

func floatPtrEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
