// Package risk grades how far a reported price sits from its audit band and
// reconciles the per-material verdict.
package risk

import (
	"github.com/sells-group/price-audit/internal/model"
)

// Variance returns the percent deviation of the reported price from the
// band. The value is positive on both sides of the band; direction is
// carried by the verdict, not the sign. A missing bound yields nil.
func Variance(reported float64, min, max *float64) *float64 {
	if min == nil || max == nil {
		return nil
	}
	switch {
	case reported < *min:
		if *min == 0 {
			return nil
		}
		return model.Float64Ptr((*min - reported) / *min * 100)
	case reported > *max:
		if *max == 0 {
			return nil
		}
		return model.Float64Ptr((reported - *max) / *max * 100)
	default:
		return model.Float64Ptr(0)
	}
}

// Level maps a variance percentage to the five-level scale. A nil variance
// maps to low as the sentinel for "could not compute".
func Level(variance *float64) model.RiskLevel {
	if variance == nil {
		return model.RiskLow
	}
	v := *variance
	if v < 0 {
		v = -v
	}
	switch {
	case v == 0:
		return model.RiskNormal
	case v <= 15:
		return model.RiskLow
	case v <= 30:
		return model.RiskMedium
	case v <= 50:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

// IsReasonable reports band membership; nil when the band is incomplete.
func IsReasonable(reported float64, min, max *float64) *bool {
	if min == nil || max == nil {
		return nil
	}
	return model.BoolPtr(reported >= *min && reported <= *max)
}

// Verdict reconciles an analysis record into the display verdict.
func Verdict(a *model.PriceAnalysis, reported float64) model.Verdict {
	if a == nil {
		return model.VerdictIndeterminate
	}

	switch a.Status {
	case model.AnalysisFailed:
		return model.VerdictFailed
	case model.AnalysisCompleted:
	default:
		return model.VerdictIndeterminate
	}

	if a.AnalysisModel == model.ModelGuidedComparison {
		if a.IsReasonable != nil && *a.IsReasonable {
			return model.VerdictMatchedReasonable
		}
		return model.VerdictMatchedAdjusted
	}

	if a.IsReasonable == nil {
		return model.VerdictIndeterminate
	}
	if *a.IsReasonable {
		return model.VerdictAIReasonable
	}
	if a.RiskLevel == model.RiskCritical {
		return model.VerdictAIAbnormal
	}
	if a.PredictedPriceMax != nil && reported > *a.PredictedPriceMax {
		return model.VerdictAIOver
	}
	return model.VerdictAIUnder
}
