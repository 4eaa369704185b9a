package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/store"
)

type fakeStore struct {
	store.Store

	project   *model.Project
	materials []model.ProjectMaterial
	analyses  []model.PriceAnalysis
}

func (f *fakeStore) GetProject(_ context.Context, _ string) (*model.Project, error) {
	return f.project, nil
}

func (f *fakeStore) ListProjectMaterials(_ context.Context, _ string, _ store.MaterialFilter) ([]model.ProjectMaterial, int, error) {
	return f.materials, len(f.materials), nil
}

func (f *fakeStore) ListProjectAnalyses(_ context.Context, _ string) ([]model.PriceAnalysis, error) {
	return f.analyses, nil
}

func completedAI(materialID string, min, max float64, level model.RiskLevel, reasonable bool) model.PriceAnalysis {
	return model.PriceAnalysis{
		MaterialID:        materialID,
		Status:            model.AnalysisCompleted,
		PredictedPriceMin: model.Float64Ptr(min),
		PredictedPriceMax: model.Float64Ptr(max),
		RiskLevel:         level,
		IsReasonable:      model.BoolPtr(reasonable),
		AnalysisModel:     "qwen-plus",
	}
}

func completedGuided(materialID string, avg float64, reasonable bool) model.PriceAnalysis {
	level := model.RiskNormal
	if !reasonable {
		level = model.RiskMedium
	}
	return model.PriceAnalysis{
		MaterialID:        materialID,
		Status:            model.AnalysisCompleted,
		PredictedPriceMin: model.Float64Ptr(avg),
		PredictedPriceMax: model.Float64Ptr(avg),
		RiskLevel:         level,
		IsReasonable:      model.BoolPtr(reasonable),
		AnalysisModel:     model.ModelGuidedComparison,
	}
}

func testFixture() *fakeStore {
	return &fakeStore{
		project: &model.Project{ID: "proj-1", Name: "测试项目", BasePriceDate: model.MustYearMonth("2024-03")},
		materials: []model.ProjectMaterial{
			// AI pathway: reported 150 vs band [90,110], avg 100, qty 10
			{ID: "m1", Name: "防水卷材", Unit: "m²", Quantity: 10, ReportedPrice: 150, Analyzed: true, Problematic: true},
			// AI pathway inside band
			{ID: "m2", Name: "中砂", Unit: "m³", Quantity: 5, ReportedPrice: 100, Analyzed: true},
			// guided pathway with adjustment
			{ID: "m3", Name: "螺纹钢", Unit: "t", Quantity: 2, ReportedPrice: 4300, Matched: true, Analyzed: true, Problematic: true},
			// failed analysis
			{ID: "m4", Name: "水泥", Unit: "t", Quantity: 1, ReportedPrice: 500, Analyzed: true, Problematic: true},
		},
		analyses: []model.PriceAnalysis{
			completedAI("m1", 90, 110, model.RiskHigh, false),
			completedAI("m2", 90, 110, model.RiskNormal, true),
			completedGuided("m3", 4000, false),
			{MaterialID: "m4", Status: model.AnalysisFailed, AnalysisModel: "qwen-plus", ErrorMessage: "provider down"},
		},
	}
}

func TestBuild_TotalsAndSavings(t *testing.T) {
	t.Parallel()

	b := NewBuilder(testFixture())
	rep, err := b.Build(context.Background(), "proj-1")

	require.NoError(t, err)
	assert.Equal(t, 4, rep.Totals.Materials)
	assert.Equal(t, 1, rep.Totals.Matched)
	assert.Equal(t, 4, rep.Totals.Analyzed)
	assert.Equal(t, 1, rep.Totals.Reasonable)
	assert.Equal(t, 2, rep.Totals.Problematic)
	assert.Equal(t, 1, rep.Totals.Failed)

	// savings only over AI-completed items: m1 = (150-100)*10, m2 in band
	assert.InDelta(t, 500, rep.Totals.EstimatedSavings, 1e-9)
}

func TestBuild_Tables(t *testing.T) {
	t.Parallel()

	b := NewBuilder(testFixture())
	rep, err := b.Build(context.Background(), "proj-1")
	require.NoError(t, err)

	require.Len(t, rep.AnalysisTable, 2)
	require.Len(t, rep.GuidedTable, 1)

	ai := rep.AnalysisTable[0]
	assert.Equal(t, "防水卷材", ai.Name)
	assert.Equal(t, 1500.0, ai.ReportedTotal)
	assert.Equal(t, 100.0, ai.AuditUnitPrice)
	assert.Equal(t, 500.0, ai.Adjustment)
	assert.Equal(t, model.VerdictAIOver, ai.Verdict)

	// weight over |1500| + |500|
	assert.InDelta(t, 75, ai.WeightPercent, 1e-9)
	assert.InDelta(t, 25, rep.AnalysisTable[1].WeightPercent, 1e-9)

	guided := rep.GuidedTable[0]
	assert.Equal(t, model.VerdictMatchedAdjusted, guided.Verdict)
	assert.InDelta(t, 100, guided.WeightPercent, 1e-9)
	assert.Equal(t, 8600.0, guided.ReportedTotal)
	assert.Equal(t, 8000.0, guided.AuditTotal)
}

func TestBuild_TopAdjustments(t *testing.T) {
	t.Parallel()

	b := NewBuilder(testFixture(), WithTopN(1))
	rep, err := b.Build(context.Background(), "proj-1")
	require.NoError(t, err)

	require.Len(t, rep.TopAdjustments, 1)
	// guided adjustment 600 outweighs AI adjustment 500
	assert.Equal(t, "螺纹钢", rep.TopAdjustments[0].MaterialName)
	assert.InDelta(t, 600, rep.TopAdjustments[0].Amount, 1e-9)
}

func TestBuild_RiskDistribution(t *testing.T) {
	t.Parallel()

	b := NewBuilder(testFixture())
	rep, err := b.Build(context.Background(), "proj-1")
	require.NoError(t, err)

	assert.Equal(t, 1, rep.RiskDistribution[model.RiskHigh])
	assert.Equal(t, 1, rep.RiskDistribution[model.RiskNormal])
	assert.Equal(t, 1, rep.RiskDistribution[model.RiskMedium])
}

func TestBuild_ProjectMissing(t *testing.T) {
	t.Parallel()

	b := NewBuilder(&fakeStore{})
	_, err := b.Build(context.Background(), "nope")
	assert.Error(t, err)
}
