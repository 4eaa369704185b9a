package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-audit/internal/model"
)

func materialRow(id string) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "project_id", "seq", "name", "specification", "unit", "category",
		"quantity", "reported_price", "matched", "reference_id", "match_score",
		"match_method", "analyzed", "problematic", "created_at", "updated_at",
	}).AddRow(id, "proj-1", 1, "螺纹钢", "HRB400 Φ12", "t", "钢材",
		10.0, 4100.0, true, "ref-1", 0.92,
		model.MatchMethodDistrict, false, false, now, now)
}

func TestPostgresStore_GetMaterial(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	mock.ExpectQuery(`SELECT .+ FROM project_materials WHERE id = \$1`).
		WithArgs("mat-1").
		WillReturnRows(materialRow("mat-1"))

	m, err := store.GetMaterial(context.Background(), "mat-1")

	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "螺纹钢", m.Name)
	assert.Equal(t, model.MatchMethodDistrict, m.MatchMethod)
	assert.True(t, m.Matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMaterial_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	mock.ExpectQuery(`SELECT .+ FROM project_materials WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	m, err := store.GetMaterial(context.Background(), "missing")

	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateProject(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	mock.ExpectExec(`INSERT INTO projects`).
		WithArgs(pgxmock.AnyArg(), "某安置房项目", "PRJ-001", "广州市天河区",
			"广东省", "广州市", "天河区", "2024-03",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p := &model.Project{
		Name:          "某安置房项目",
		Code:          "PRJ-001",
		Location:      "广州市天河区",
		BaseProvince:  "广东省",
		BaseCity:      "广州市",
		BaseDistrict:  "天河区",
		BasePriceDate: model.MustYearMonth("2024-03"),
	}
	err = store.CreateProject(context.Background(), p)

	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateProject_Invalid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	err = store.CreateProject(context.Background(), &model.Project{Name: ""})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateMaterialMatch_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	mock.ExpectExec(`UPDATE project_materials`).
		WithArgs(true, "ref-9", 0.9, model.MatchMethodCity, false, pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateMaterialMatch(context.Background(), &model.ProjectMaterial{
		ID: "ghost", Matched: true, ReferenceID: "ref-9",
		MatchScore: 0.9, MatchMethod: model.MatchMethodCity,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateMaterialAnalysisState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	mock.ExpectExec(`UPDATE project_materials`).
		WithArgs(true, true, pgxmock.AnyArg(), "mat-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.UpdateMaterialAnalysisState(context.Background(), "mat-1", true, true)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadReferenceCandidates_RegionFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	cols := []string{
		"id", "material_code", "name", "specification", "unit", "category",
		"price_type", "province", "city", "district", "issue_period",
		"price_excluding_tax", "price_including_tax", "created_at", "updated_at",
	}
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM reference_materials WHERE price_type = \$1 AND issue_period = \$2 AND province = \$3 AND city = \$4 AND district = \$5`).
		WithArgs("municipal", "2024-03", "广东省", "广州市", "天河区").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("ref-1", "C001", "螺纹钢", "HRB400 Φ12", "t", "钢材",
				"municipal", "广东省", "广州市", "天河区", "2024-03",
				3900.0, 4407.0, now, now))

	refs, err := store.LoadReferenceCandidates(context.Background(), CandidateQuery{
		Period:    model.MustYearMonth("2024-03"),
		PriceType: model.PriceTypeMunicipal,
		Province:  "广东省",
		City:      "广州市",
		District:  "天河区",
	})

	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "C001", refs[0].MaterialCode)
	assert.Equal(t, model.YearMonth{Year: 2024, Month: 3}, refs[0].IssuePeriod)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadReferencePeers_ByCode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	cols := []string{
		"id", "material_code", "name", "specification", "unit", "category",
		"price_type", "province", "city", "district", "issue_period",
		"price_excluding_tax", "price_including_tax", "created_at", "updated_at",
	}
	now := time.Now().UTC()
	rows := pgxmock.NewRows(cols)
	for i, period := range []string{"2024-01", "2024-02", "2024-03"} {
		rows.AddRow("ref-"+period, "C001", "螺纹钢", "HRB400 Φ12", "t", "钢材",
			"municipal", "广东省", "广州市", "天河区", period,
			3800.0+float64(i)*50, 4300.0, now, now)
	}

	mock.ExpectQuery(`SELECT .+ FROM reference_materials WHERE material_code = \$1 AND issue_period >= \$2 AND issue_period <= \$3`).
		WithArgs("C001", "2024-01", "2024-06").
		WillReturnRows(rows)

	start := model.MustYearMonth("2024-01")
	end := model.MustYearMonth("2024-06")
	peers, err := store.LoadReferencePeers(context.Background(),
		&model.ReferenceMaterial{MaterialCode: "C001"},
		model.ContractWindow{Start: &start, End: &end})

	require.NoError(t, err)
	assert.Len(t, peers, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteCurrentAnalyses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	mock.ExpectExec(`DELETE FROM price_analyses WHERE material_id = ANY`).
		WithArgs([]string{"a", "b"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := store.DeleteCurrentAnalyses(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteCurrentAnalyses_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	n, err := store.DeleteCurrentAnalyses(context.Background(), nil)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendHistory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	mock.ExpectExec(`INSERT INTO price_analysis_history`).
		WithArgs(pgxmock.AnyArg(), "an-1", "mat-1", "completed",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"low", pgxmock.AnyArg(), "区间内", "gpt-4o-mini",
			12.5, 0.003, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	h := &model.AnalysisHistory{
		AnalysisID:    "an-1",
		MaterialID:    "mat-1",
		Status:        model.AnalysisCompleted,
		RiskLevel:     model.RiskLow,
		Reasoning:     "区间内",
		AnalysisModel: "gpt-4o-mini",
		AnalysisTime:  12.5,
		AnalysisCost:  0.003,
	}
	err = store.AppendHistory(context.Background(), h)

	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCurrentAnalysis_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresWithPool(mock)

	mock.ExpectQuery(`SELECT .+ FROM price_analyses WHERE material_id = \$1`).
		WithArgs("mat-x").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	a, err := store.GetCurrentAnalysis(context.Background(), "mat-x")

	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}
