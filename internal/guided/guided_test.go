package guided

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

	reference *model.ReferenceMaterial
	peers     []model.ReferenceMaterial
	materials []model.ProjectMaterial

	analyses map[string]*model.PriceAnalysis
	deleted  []string
	states   map[string][2]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		analyses: map[string]*model.PriceAnalysis{},
		states:   map[string][2]bool{},
	}
}

func (f *fakeStore) GetReferenceMaterial(_ context.Context, id string) (*model.ReferenceMaterial, error) {
	if f.reference != nil && f.reference.ID == id {
		return f.reference, nil
	}
	return nil, nil
}

func (f *fakeStore) LoadReferencePeers(_ context.Context, _ *model.ReferenceMaterial, _ model.ContractWindow) ([]model.ReferenceMaterial, error) {
	return f.peers, nil
}

func (f *fakeStore) ListProjectMaterials(_ context.Context, _ string, _ store.MaterialFilter) ([]model.ProjectMaterial, int, error) {
	return f.materials, len(f.materials), nil
}

func (f *fakeStore) DeleteCurrentAnalyses(_ context.Context, ids []string) (int64, error) {
	f.deleted = append(f.deleted, ids...)
	return int64(len(ids)), nil
}

func (f *fakeStore) UpsertCurrentAnalysis(_ context.Context, a *model.PriceAnalysis) error {
	f.analyses[a.MaterialID] = a
	return nil
}

func (f *fakeStore) UpdateMaterialAnalysisState(_ context.Context, id string, analyzed, problematic bool) error {
	f.states[id] = [2]bool{analyzed, problematic}
	return nil
}

func period(s string) model.YearMonth { return model.MustYearMonth(s) }

func guidedRef(id string, exclTax float64) *model.ReferenceMaterial {
	return &model.ReferenceMaterial{
		ID: id, Name: "螺纹钢", Specification: "HRB400 Φ12", Unit: "t",
		PriceType: model.PriceTypeMunicipal, Province: "广东省", City: "广州市",
		IssuePeriod: period("2024-03"), PriceExcludingTax: exclTax,
	}
}

func peerAt(p string, exclTax float64) model.ReferenceMaterial {
	r := guidedRef("peer-"+p, exclTax)
	r.IssuePeriod = period(p)
	return *r
}

func matchedItem(refID string, reported, qty float64) *model.ProjectMaterial {
	return &model.ProjectMaterial{
		ID: "mat-1", ProjectID: "proj-1", Name: "螺纹钢", Specification: "HRB400 Φ12",
		Unit: "t", Quantity: qty, ReportedPrice: reported,
		Matched: true, ReferenceID: refID, MatchScore: 0.92,
		MatchMethod: model.MatchMethodCity,
	}
}

func TestAnalyseItem_InsideTolerance(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 200)
	fs.peers = []model.ReferenceMaterial{peerAt("2024-01", 200), peerAt("2024-02", 205), peerAt("2024-03", 210)}
	e := NewEngine(fs)

	res, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 210, 10))

	require.NoError(t, err)
	assert.InDelta(t, 205, res.ContractAverage, 1e-9)
	assert.InDelta(t, 0.025, res.RiskRate, 1e-9)
	assert.Zero(t, res.AdjustmentUnit)
	assert.True(t, res.Reasonable)
	assert.Equal(t, model.RiskNormal, res.RiskLevel)

	a := fs.analyses["mat-1"]
	require.NotNil(t, a)
	assert.Equal(t, model.AnalysisCompleted, a.Status)
	assert.Equal(t, model.ModelGuidedComparison, a.AnalysisModel)
	assert.Equal(t, *a.PredictedPriceMin, *a.PredictedPriceMax)
	assert.Equal(t, [2]bool{true, false}, fs.states["mat-1"])
	assert.Empty(t, fs.deleted)
}

func TestAnalyseItem_RerunOverwritesCurrentRow(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 200)
	fs.peers = []model.ReferenceMaterial{peerAt("2024-01", 205)}
	e := NewEngine(fs)

	_, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 210, 1))
	require.NoError(t, err)

	fs.peers = []model.ReferenceMaterial{peerAt("2024-02", 240)}
	res, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 210, 1))
	require.NoError(t, err)

	// the upsert replaces the row in place; nothing is deleted on the way
	assert.Empty(t, fs.deleted)
	assert.Len(t, fs.analyses, 1)
	assert.Equal(t, res.ContractAverage, *fs.analyses["mat-1"].PredictedPriceMin)
}

func TestAnalyseItem_OutsideTolerance(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 200)
	fs.peers = []model.ReferenceMaterial{peerAt("2024-01", 225), peerAt("2024-02", 230), peerAt("2024-03", 235)}
	e := NewEngine(fs)

	res, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 240, 10))

	require.NoError(t, err)
	assert.InDelta(t, 230, res.ContractAverage, 1e-9)
	assert.InDelta(t, 0.15, res.RiskRate, 1e-9)
	assert.InDelta(t, 20, res.AdjustmentUnit, 1e-9) // 230 - 200*1.05
	assert.InDelta(t, 200, res.TotalAdjustment, 1e-9)
	assert.False(t, res.Reasonable)
	assert.Equal(t, model.RiskMedium, res.RiskLevel)
	assert.Equal(t, [2]bool{true, true}, fs.states["mat-1"])
}

func TestAnalyseItem_BelowTolerance(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 200)
	fs.peers = []model.ReferenceMaterial{peerAt("2024-01", 170)}
	e := NewEngine(fs)

	res, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 180, 5))

	require.NoError(t, err)
	assert.InDelta(t, -0.15, res.RiskRate, 1e-9)
	assert.InDelta(t, -20, res.AdjustmentUnit, 1e-9) // 170 - 200*0.95
	assert.InDelta(t, -100, res.TotalAdjustment, 1e-9)
	assert.Equal(t, model.RiskMedium, res.RiskLevel)
}

func TestAnalyseItem_EmptyPeersFallBackToReference(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 200)
	e := NewEngine(fs)

	res, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 210, 1))

	require.NoError(t, err)
	assert.Equal(t, 200.0, res.ContractAverage)
	assert.Zero(t, res.RiskRate)
	assert.Equal(t, 1, res.PeerCount)
	assert.Equal(t, model.RiskNormal, res.RiskLevel)
}

func TestAnalyseItem_UnitConversion(t *testing.T) {
	t.Parallel()

	// reference priced per kg, project bills in tonnes
	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 4.2)
	fs.reference.Unit = "kg"
	e := NewEngine(fs)

	res, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 4300, 10))

	require.NoError(t, err)
	assert.InDelta(t, 4200, res.BasePrice, 1e-6)
}

func TestAnalyseItem_UnitIncompatible(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 200)
	fs.reference.Unit = "m" // length against a mass item
	e := NewEngine(fs)

	_, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 210, 1))

	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonUnitIncompatible)

	a := fs.analyses["mat-1"]
	require.NotNil(t, a)
	assert.Equal(t, model.AnalysisFailed, a.Status)
	assert.Equal(t, ReasonUnitIncompatible, a.ErrorMessage)
	assert.Equal(t, [2]bool{true, true}, fs.states["mat-1"])
}

func TestAnalyseItem_MissingBasePrice(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 0)
	e := NewEngine(fs)

	_, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 210, 1))

	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonMissingBasePrice)
	assert.Equal(t, model.AnalysisFailed, fs.analyses["mat-1"].Status)
}

func TestAnalyseItem_UnconvertiblePeersDropped(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 200)
	badPeer := peerAt("2024-01", 999)
	badPeer.Unit = "m"
	fs.peers = []model.ReferenceMaterial{badPeer, peerAt("2024-02", 210)}
	e := NewEngine(fs)

	res, err := e.AnalyseItem(context.Background(), &model.Project{}, matchedItem("ref-1", 205, 1))

	require.NoError(t, err)
	assert.Equal(t, 1, res.PeerCount)
	assert.Equal(t, 210.0, res.ContractAverage)
}

func TestRunProject_ContinuesPastItemFailures(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.reference = guidedRef("ref-1", 200)
	fs.peers = []model.ReferenceMaterial{peerAt("2024-01", 205)}

	ok := *matchedItem("ref-1", 210, 1)
	broken := *matchedItem("ref-missing", 100, 1)
	broken.ID = "mat-2"
	fs.materials = []model.ProjectMaterial{ok, broken}

	e := NewEngine(fs)
	sum, err := e.RunProject(context.Background(), &model.Project{ID: "proj-1"})

	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Results, 1)
}

func TestDifferenceLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want model.RiskLevel
	}{
		{0, model.RiskNormal},
		{0.049, model.RiskNormal},
		{-0.049, model.RiskNormal},
		{0.05, model.RiskLow},
		{0.149, model.RiskLow},
		{0.15, model.RiskMedium},
		{-0.29, model.RiskMedium},
		{0.30, model.RiskHigh},
		{1.5, model.RiskHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, differenceLevel(tt.rate), "rate %v", tt.rate)
	}
}
