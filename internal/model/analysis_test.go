package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotCarriesArchivalFields(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 7, 12, 9, 30, 0, 0, time.UTC)
	a := &PriceAnalysis{
		ID:                "an-1",
		MaterialID:        "m-1",
		Status:            AnalysisCompleted,
		PredictedPriceMin: Float64Ptr(3400),
		PredictedPriceMax: Float64Ptr(4200),
		Confidence:        Float64Ptr(0.8),
		RiskLevel:         RiskNormal,
		IsReasonable:      BoolPtr(true),
		Reasoning:         "市场询价结果落在指导价区间内",
		AnalysisModel:     "qwen-plus",
		AnalyzedAt:        &at,
	}

	h := a.Snapshot()

	assert.Equal(t, "an-1", h.AnalysisID)
	assert.Equal(t, "m-1", h.MaterialID)
	assert.Equal(t, AnalysisCompleted, h.Status)
	assert.Equal(t, 3400.0, *h.PredictedPriceMin)
	assert.Equal(t, 4200.0, *h.PredictedPriceMax)
	assert.Equal(t, "qwen-plus", h.AnalysisModel)
	assert.Equal(t, &at, h.AnalyzedAt)
}

func TestSameOutcome(t *testing.T) {
	t.Parallel()

	base := &PriceAnalysis{
		Status:            AnalysisCompleted,
		PredictedPriceMin: Float64Ptr(100),
		PredictedPriceMax: Float64Ptr(120),
		AnalysisModel:     "qwen-plus",
	}
	snap := base.Snapshot()

	assert.True(t, snap.SameOutcome(base))

	shifted := *base
	shifted.PredictedPriceMax = Float64Ptr(130)
	assert.False(t, snap.SameOutcome(&shifted))

	otherModel := *base
	otherModel.AnalysisModel = "gpt-4o"
	assert.False(t, snap.SameOutcome(&otherModel))

	failed := *base
	failed.Status = AnalysisFailed
	assert.False(t, snap.SameOutcome(&failed))

	noBand := &PriceAnalysis{Status: AnalysisCompleted, AnalysisModel: "qwen-plus"}
	assert.False(t, snap.SameOutcome(noBand))
}

func TestRiskLevelRank(t *testing.T) {
	t.Parallel()

	order := []RiskLevel{RiskNormal, RiskLow, RiskMedium, RiskHigh, RiskCritical}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank(), "%s should outrank %s", order[i], order[i-1])
	}
}
