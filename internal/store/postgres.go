package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/price-audit/internal/db"
	"github.com/sells-group/price-audit/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_material":         `SELECT ` + materialColumns + ` FROM project_materials WHERE id = $1`,
	"get_current_analysis": `SELECT ` + analysisColumns + ` FROM price_analyses WHERE material_id = $1`,
	"latest_history":       `SELECT ` + historyColumns + ` FROM price_analysis_history WHERE material_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
	"update_material_analysis_state": `UPDATE project_materials
		SET analyzed = $1, problematic = $2, updated_at = $3 WHERE id = $4`,
}

const materialColumns = `id, project_id, seq, name, specification, unit, category,
	quantity, reported_price, matched, reference_id, match_score, match_method,
	analyzed, problematic, created_at, updated_at`

const analysisColumns = `id, material_id, status, predicted_price_min, predicted_price_max,
	confidence, data_sources, reasoning, risk_factors, price_variance, risk_level,
	is_reasonable, analysis_model, analysis_prompt, api_response, analysis_time,
	analysis_cost, error_message, created_at, updated_at, analyzed_at`

const historyColumns = `id, analysis_id, material_id, status, predicted_price_min,
	predicted_price_max, confidence, price_variance, risk_level, is_reasonable,
	reasoning, analysis_model, analysis_time, analysis_cost, analyzed_at, created_at`

const referenceColumns = `id, material_code, name, specification, unit, category,
	price_type, province, city, district, issue_period,
	price_excluding_tax, price_including_tax, created_at, updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name            TEXT NOT NULL,
	code            TEXT,
	location        TEXT,
	base_province   TEXT,
	base_city       TEXT,
	base_district   TEXT,
	base_price_date TEXT NOT NULL,
	contract_start  TEXT,
	contract_end    TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS project_materials (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id     TEXT NOT NULL REFERENCES projects(id),
	seq            INTEGER NOT NULL DEFAULT 0,
	name           TEXT NOT NULL,
	specification  TEXT NOT NULL DEFAULT '',
	unit           TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	quantity       DOUBLE PRECISION NOT NULL DEFAULT 0,
	reported_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	matched        BOOLEAN NOT NULL DEFAULT false,
	reference_id   TEXT NOT NULL DEFAULT '',
	match_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	match_method   TEXT NOT NULL DEFAULT '',
	analyzed       BOOLEAN NOT NULL DEFAULT false,
	problematic    BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reference_materials (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	material_code       TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL,
	specification       TEXT NOT NULL DEFAULT '',
	unit                TEXT NOT NULL DEFAULT '',
	category            TEXT NOT NULL DEFAULT '',
	price_type          TEXT NOT NULL,
	province            TEXT NOT NULL DEFAULT '',
	city                TEXT NOT NULL DEFAULT '',
	district            TEXT NOT NULL DEFAULT '',
	issue_period        TEXT NOT NULL,
	price_excluding_tax DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_including_tax DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, specification, unit, price_type, province, city, district, issue_period)
);

CREATE TABLE IF NOT EXISTS price_analyses (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	material_id         TEXT NOT NULL UNIQUE REFERENCES project_materials(id),
	status              TEXT NOT NULL DEFAULT 'pending',
	predicted_price_min DOUBLE PRECISION,
	predicted_price_max DOUBLE PRECISION,
	confidence          DOUBLE PRECISION,
	data_sources        JSONB,
	reasoning           TEXT NOT NULL DEFAULT '',
	risk_factors        TEXT NOT NULL DEFAULT '',
	price_variance      DOUBLE PRECISION,
	risk_level          TEXT NOT NULL DEFAULT '',
	is_reasonable       BOOLEAN,
	analysis_model      TEXT NOT NULL DEFAULT '',
	analysis_prompt     TEXT NOT NULL DEFAULT '',
	api_response        JSONB,
	analysis_time       DOUBLE PRECISION NOT NULL DEFAULT 0,
	analysis_cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message       TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	analyzed_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS price_analysis_history (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	analysis_id         TEXT NOT NULL DEFAULT '',
	material_id         TEXT NOT NULL,
	status              TEXT NOT NULL,
	predicted_price_min DOUBLE PRECISION,
	predicted_price_max DOUBLE PRECISION,
	confidence          DOUBLE PRECISION,
	price_variance      DOUBLE PRECISION,
	risk_level          TEXT NOT NULL DEFAULT '',
	is_reasonable       BOOLEAN,
	reasoning           TEXT NOT NULL DEFAULT '',
	analysis_model      TEXT NOT NULL DEFAULT '',
	analysis_time       DOUBLE PRECISION NOT NULL DEFAULT 0,
	analysis_cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
	analyzed_at         TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_materials_project ON project_materials(project_id);
CREATE INDEX IF NOT EXISTS idx_materials_project_matched ON project_materials(project_id, matched);
CREATE INDEX IF NOT EXISTS idx_references_lookup ON reference_materials(price_type, issue_period, province, city, district);
CREATE INDEX IF NOT EXISTS idx_references_code ON reference_materials(material_code) WHERE material_code <> '';
CREATE INDEX IF NOT EXISTS idx_analyses_material ON price_analyses(material_id);
CREATE INDEX IF NOT EXISTS idx_history_material_created ON price_analysis_history(material_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	if err := p.Validate(); err != nil {
		return eris.Wrap(err, "postgres: create project")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, code, location, base_province, base_city, base_district,
			base_price_date, contract_start, contract_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Name, p.Code, p.Location, p.BaseProvince, p.BaseCity, p.BaseDistrict,
		p.BasePriceDate.String(), ymPtrString(p.Contract.Start), ymPtrString(p.Contract.End),
		now, now,
	)
	return eris.Wrap(err, "postgres: insert project")
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	var baseDate string
	var contractStart, contractEnd *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, code, location, base_province, base_city, base_district,
			base_price_date, contract_start, contract_end, created_at, updated_at
		FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Code, &p.Location, &p.BaseProvince, &p.BaseCity, &p.BaseDistrict,
		&baseDate, &contractStart, &contractEnd, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %s", id)
	}

	if p.BasePriceDate, err = model.ParseYearMonth(baseDate); err != nil {
		return nil, eris.Wrapf(err, "postgres: project %s base price date", id)
	}
	if p.Contract.Start, err = ymPtrParse(contractStart); err != nil {
		return nil, eris.Wrapf(err, "postgres: project %s contract start", id)
	}
	if p.Contract.End, err = ymPtrParse(contractEnd); err != nil {
		return nil, eris.Wrapf(err, "postgres: project %s contract end", id)
	}
	return &p, nil
}

// --- Project materials ---

func (s *PostgresStore) CreateMaterials(ctx context.Context, materials []model.ProjectMaterial) error {
	if len(materials) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(materials))
	for i := range materials {
		m := &materials[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		m.CreatedAt, m.UpdatedAt = now, now
		rows[i] = []any{
			m.ID, m.ProjectID, m.Seq, m.Name, m.Specification, m.Unit, m.Category,
			m.Quantity, m.ReportedPrice, m.Matched, m.ReferenceID, m.MatchScore,
			m.MatchMethod, m.Analyzed, m.Problematic, now, now,
		}
	}

	_, err := db.CopyFrom(ctx, s.pool, "project_materials", []string{
		"id", "project_id", "seq", "name", "specification", "unit", "category",
		"quantity", "reported_price", "matched", "reference_id", "match_score",
		"match_method", "analyzed", "problematic", "created_at", "updated_at",
	}, rows)
	return eris.Wrap(err, "postgres: create materials")
}

func (s *PostgresStore) GetMaterial(ctx context.Context, id string) (*model.ProjectMaterial, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+materialColumns+` FROM project_materials WHERE id = $1`, id)
	m, err := scanMaterial(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get material %s", id)
	}
	return m, nil
}

func (s *PostgresStore) ListProjectMaterials(ctx context.Context, projectID string, filter MaterialFilter) ([]model.ProjectMaterial, int, error) {
	where := []string{"project_id = $1"}
	args := []any{projectID}

	appendBool := func(col string, v *bool) {
		if v != nil {
			args = append(args, *v)
			where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	appendBool("matched", filter.Matched)
	appendBool("analyzed", filter.Analyzed)
	appendBool("problematic", filter.Problematic)

	whereSQL := strings.Join(where, " AND ")

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM project_materials WHERE `+whereSQL, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count materials")
	}

	query := `SELECT ` + materialColumns + ` FROM project_materials WHERE ` + whereSQL + ` ORDER BY seq, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list materials")
	}
	defer rows.Close()

	var items []model.ProjectMaterial
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan material")
		}
		items = append(items, *m)
	}
	return items, total, eris.Wrap(rows.Err(), "postgres: list materials")
}

func (s *PostgresStore) UpdateMaterialMatch(ctx context.Context, m *model.ProjectMaterial) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE project_materials
		SET matched = $1, reference_id = $2, match_score = $3, match_method = $4,
			problematic = $5, updated_at = $6
		WHERE id = $7`,
		m.Matched, m.ReferenceID, m.MatchScore, m.MatchMethod, m.Problematic,
		time.Now().UTC(), m.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update match %s", m.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("material not found: %s", m.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateMaterialAnalysisState(ctx context.Context, materialID string, analyzed, problematic bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE project_materials
		SET analyzed = $1, problematic = $2, updated_at = $3 WHERE id = $4`,
		analyzed, problematic, time.Now().UTC(), materialID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update analysis state %s", materialID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("material not found: %s", materialID)
	}
	return nil
}

// --- Reference catalogue ---

func (s *PostgresStore) UpsertReferenceMaterials(ctx context.Context, refs []model.ReferenceMaterial) (int64, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(refs))
	for i := range refs {
		r := &refs[i]
		if err := r.Validate(); err != nil {
			return 0, eris.Wrap(err, "postgres: upsert references")
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		rows[i] = []any{
			r.ID, r.MaterialCode, r.Name, r.Specification, r.Unit, r.Category,
			string(r.PriceType), r.Province, r.City, r.District, r.IssuePeriod.String(),
			r.PriceExcludingTax, r.PriceIncludingTax, now, now,
		}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "reference_materials",
		Columns: []string{
			"id", "material_code", "name", "specification", "unit", "category",
			"price_type", "province", "city", "district", "issue_period",
			"price_excluding_tax", "price_including_tax", "created_at", "updated_at",
		},
		ConflictKeys: []string{"name", "specification", "unit", "price_type", "province", "city", "district", "issue_period"},
		UpdateCols:   []string{"material_code", "category", "price_excluding_tax", "price_including_tax", "updated_at"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert references")
}

func (s *PostgresStore) LoadReferenceCandidates(ctx context.Context, q CandidateQuery) ([]model.ReferenceMaterial, error) {
	where := []string{"price_type = $1", "issue_period = $2"}
	args := []any{string(q.PriceType), q.Period.String()}

	appendEq := func(col, v string) {
		if v != "" {
			args = append(args, v)
			where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	appendEq("province", q.Province)
	appendEq("city", q.City)
	appendEq("district", q.District)

	rows, err := s.pool.Query(ctx,
		`SELECT `+referenceColumns+` FROM reference_materials WHERE `+
			strings.Join(where, " AND ")+` ORDER BY id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load candidates")
	}
	defer rows.Close()

	return collectReferences(rows)
}

func (s *PostgresStore) LoadReferencePeers(ctx context.Context, ref *model.ReferenceMaterial, window model.ContractWindow) ([]model.ReferenceMaterial, error) {
	var where []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if ref.MaterialCode != "" {
		where = append(where, "material_code = "+arg(ref.MaterialCode))
	} else {
		where = append(where,
			"name = "+arg(ref.Name),
			"specification = "+arg(ref.Specification),
			"unit = "+arg(ref.Unit),
			"price_type = "+arg(string(ref.PriceType)),
			"province = "+arg(ref.Province),
			"city = "+arg(ref.City),
			"district = "+arg(ref.District),
		)
	}

	// issue_period is canonical YYYY-MM, so string comparison orders by month
	if window.Start != nil {
		where = append(where, "issue_period >= "+arg(window.Start.String()))
	}
	if window.End != nil {
		where = append(where, "issue_period <= "+arg(window.End.String()))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+referenceColumns+` FROM reference_materials WHERE `+
			strings.Join(where, " AND ")+` ORDER BY issue_period, id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load peers")
	}
	defer rows.Close()

	return collectReferences(rows)
}

func (s *PostgresStore) GetReferenceMaterial(ctx context.Context, id string) (*model.ReferenceMaterial, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+referenceColumns+` FROM reference_materials WHERE id = $1`, id)
	r, err := scanReference(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get reference %s", id)
	}
	return r, nil
}

// --- Current analyses ---

func (s *PostgresStore) GetCurrentAnalysis(ctx context.Context, materialID string) (*model.PriceAnalysis, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM price_analyses WHERE material_id = $1`, materialID)
	a, err := scanAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get analysis for %s", materialID)
	}
	return a, nil
}

func (s *PostgresStore) UpsertCurrentAnalysis(ctx context.Context, a *model.PriceAnalysis) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	sourcesJSON, err := json.Marshal(a.DataSources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal data sources")
	}
	var responseJSON []byte
	if a.APIResponse != nil {
		if responseJSON, err = json.Marshal(a.APIResponse); err != nil {
			return eris.Wrap(err, "postgres: marshal api response")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO price_analyses (id, material_id, status, predicted_price_min,
			predicted_price_max, confidence, data_sources, reasoning, risk_factors,
			price_variance, risk_level, is_reasonable, analysis_model, analysis_prompt,
			api_response, analysis_time, analysis_cost, error_message,
			created_at, updated_at, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (material_id) DO UPDATE SET
			status = EXCLUDED.status,
			predicted_price_min = EXCLUDED.predicted_price_min,
			predicted_price_max = EXCLUDED.predicted_price_max,
			confidence = EXCLUDED.confidence,
			data_sources = EXCLUDED.data_sources,
			reasoning = EXCLUDED.reasoning,
			risk_factors = EXCLUDED.risk_factors,
			price_variance = EXCLUDED.price_variance,
			risk_level = EXCLUDED.risk_level,
			is_reasonable = EXCLUDED.is_reasonable,
			analysis_model = EXCLUDED.analysis_model,
			analysis_prompt = EXCLUDED.analysis_prompt,
			api_response = EXCLUDED.api_response,
			analysis_time = EXCLUDED.analysis_time,
			analysis_cost = EXCLUDED.analysis_cost,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at,
			analyzed_at = EXCLUDED.analyzed_at`,
		a.ID, a.MaterialID, string(a.Status), a.PredictedPriceMin, a.PredictedPriceMax,
		a.Confidence, sourcesJSON, a.Reasoning, strings.Join(a.RiskFactors, "; "),
		a.PriceVariance, string(a.RiskLevel), a.IsReasonable, a.AnalysisModel,
		a.AnalysisPrompt, responseJSON, a.AnalysisTime, a.AnalysisCost, a.ErrorMessage,
		a.CreatedAt, a.UpdatedAt, a.AnalyzedAt,
	)
	return eris.Wrapf(err, "postgres: upsert analysis for %s", a.MaterialID)
}

func (s *PostgresStore) DeleteCurrentAnalyses(ctx context.Context, materialIDs []string) (int64, error) {
	if len(materialIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_analyses WHERE material_id = ANY($1)`, materialIDs)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete analyses")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListProjectAnalyses(ctx context.Context, projectID string) ([]model.PriceAnalysis, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+prefixColumns("a", analysisColumns)+`
		FROM price_analyses a
		JOIN project_materials m ON m.id = a.material_id
		WHERE m.project_id = $1
		ORDER BY m.seq, m.id`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list project analyses")
	}
	defer rows.Close()

	var analyses []model.PriceAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		analyses = append(analyses, *a)
	}
	return analyses, eris.Wrap(rows.Err(), "postgres: list project analyses")
}

// --- History ---

func (s *PostgresStore) AppendHistory(ctx context.Context, h *model.AnalysisHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_analysis_history (id, analysis_id, material_id, status,
			predicted_price_min, predicted_price_max, confidence, price_variance,
			risk_level, is_reasonable, reasoning, analysis_model, analysis_time,
			analysis_cost, analyzed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		h.ID, h.AnalysisID, h.MaterialID, string(h.Status),
		h.PredictedPriceMin, h.PredictedPriceMax, h.Confidence, h.PriceVariance,
		string(h.RiskLevel), h.IsReasonable, h.Reasoning, h.AnalysisModel,
		h.AnalysisTime, h.AnalysisCost, h.AnalyzedAt, h.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append history for %s", h.MaterialID)
}

func (s *PostgresStore) LatestHistory(ctx context.Context, materialID string) (*model.AnalysisHistory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+historyColumns+` FROM price_analysis_history
		WHERE material_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, materialID)
	h, err := scanHistory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest history for %s", materialID)
	}
	return h, nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, materialID string, limit int) ([]model.AnalysisHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM price_analysis_history
		WHERE material_id = $1 ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, materialID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list history for %s", materialID)
	}
	defer rows.Close()

	var entries []model.AnalysisHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		entries = append(entries, *h)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list history")
}

// --- scan helpers ---

func scanMaterial(row pgx.Row) (*model.ProjectMaterial, error) {
	var m model.ProjectMaterial
	err := row.Scan(&m.ID, &m.ProjectID, &m.Seq, &m.Name, &m.Specification, &m.Unit,
		&m.Category, &m.Quantity, &m.ReportedPrice, &m.Matched, &m.ReferenceID,
		&m.MatchScore, &m.MatchMethod, &m.Analyzed, &m.Problematic,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanReference(row pgx.Row) (*model.ReferenceMaterial, error) {
	var r model.ReferenceMaterial
	var priceType, period string
	err := row.Scan(&r.ID, &r.MaterialCode, &r.Name, &r.Specification, &r.Unit,
		&r.Category, &priceType, &r.Province, &r.City, &r.District, &period,
		&r.PriceExcludingTax, &r.PriceIncludingTax, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.PriceType = model.PriceType(priceType)
	if r.IssuePeriod, err = model.ParseYearMonth(period); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectReferences(rows pgx.Rows) ([]model.ReferenceMaterial, error) {
	var refs []model.ReferenceMaterial
	for rows.Next() {
		r, err := scanReference(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan reference")
		}
		refs = append(refs, *r)
	}
	return refs, eris.Wrap(rows.Err(), "postgres: collect references")
}

func scanAnalysis(row pgx.Row) (*model.PriceAnalysis, error) {
	var a model.PriceAnalysis
	var status, riskLevel, riskFactors string
	var sourcesJSON, responseJSON []byte

	err := row.Scan(&a.ID, &a.MaterialID, &status, &a.PredictedPriceMin,
		&a.PredictedPriceMax, &a.Confidence, &sourcesJSON, &a.Reasoning, &riskFactors,
		&a.PriceVariance, &riskLevel, &a.IsReasonable, &a.AnalysisModel,
		&a.AnalysisPrompt, &responseJSON, &a.AnalysisTime, &a.AnalysisCost,
		&a.ErrorMessage, &a.CreatedAt, &a.UpdatedAt, &a.AnalyzedAt)
	if err != nil {
		return nil, err
	}

	a.Status = model.AnalysisStatus(status)
	a.RiskLevel = model.RiskLevel(riskLevel)
	if riskFactors != "" {
		a.RiskFactors = strings.Split(riskFactors, "; ")
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &a.DataSources); err != nil {
			return nil, eris.Wrap(err, "unmarshal data sources")
		}
	}
	if len(responseJSON) > 0 {
		if err := json.Unmarshal(responseJSON, &a.APIResponse); err != nil {
			return nil, eris.Wrap(err, "unmarshal api response")
		}
	}
	return &a, nil
}

func scanHistory(row pgx.Row) (*model.AnalysisHistory, error) {
	var h model.AnalysisHistory
	var status, riskLevel string
	err := row.Scan(&h.ID, &h.AnalysisID, &h.MaterialID, &status,
		&h.PredictedPriceMin, &h.PredictedPriceMax, &h.Confidence, &h.PriceVariance,
		&riskLevel, &h.IsReasonable, &h.Reasoning, &h.AnalysisModel,
		&h.AnalysisTime, &h.AnalysisCost, &h.AnalyzedAt, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	h.Status = model.AnalysisStatus(status)
	h.RiskLevel = model.RiskLevel(riskLevel)
	return &h, nil
}

func ymPtrString(ym *model.YearMonth) *string {
	if ym == nil {
		return nil
	}
	s := ym.String()
	return &s
}

func ymPtrParse(s *string) (*model.YearMonth, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	ym, err := model.ParseYearMonth(*s)
	if err != nil {
		return nil, err
	}
	return &ym, nil
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
