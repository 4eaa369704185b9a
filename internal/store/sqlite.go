package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/price-audit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	code            TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	base_province   TEXT NOT NULL DEFAULT '',
	base_city       TEXT NOT NULL DEFAULT '',
	base_district   TEXT NOT NULL DEFAULT '',
	base_price_date TEXT NOT NULL,
	contract_start  TEXT,
	contract_end    TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS project_materials (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL REFERENCES projects(id),
	seq            INTEGER NOT NULL DEFAULT 0,
	name           TEXT NOT NULL,
	specification  TEXT NOT NULL DEFAULT '',
	unit           TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	quantity       REAL NOT NULL DEFAULT 0,
	reported_price REAL NOT NULL DEFAULT 0,
	matched        INTEGER NOT NULL DEFAULT 0,
	reference_id   TEXT NOT NULL DEFAULT '',
	match_score    REAL NOT NULL DEFAULT 0,
	match_method   TEXT NOT NULL DEFAULT '',
	analyzed       INTEGER NOT NULL DEFAULT 0,
	problematic    INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reference_materials (
	id                  TEXT PRIMARY KEY,
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
	price_excluding_tax REAL NOT NULL DEFAULT 0,
	price_including_tax REAL NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (name, specification, unit, price_type, province, city, district, issue_period)
);

CREATE TABLE IF NOT EXISTS price_analyses (
	id                  TEXT PRIMARY KEY,
	material_id         TEXT NOT NULL UNIQUE REFERENCES project_materials(id),
	status              TEXT NOT NULL DEFAULT 'pending',
	predicted_price_min REAL,
	predicted_price_max REAL,
	confidence          REAL,
	data_sources        TEXT,
	reasoning           TEXT NOT NULL DEFAULT '',
	risk_factors        TEXT NOT NULL DEFAULT '',
	price_variance      REAL,
	risk_level          TEXT NOT NULL DEFAULT '',
	is_reasonable       INTEGER,
	analysis_model      TEXT NOT NULL DEFAULT '',
	analysis_prompt     TEXT NOT NULL DEFAULT '',
	api_response        TEXT,
	analysis_time       REAL NOT NULL DEFAULT 0,
	analysis_cost       REAL NOT NULL DEFAULT 0,
	error_message       TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	analyzed_at         DATETIME
);

CREATE TABLE IF NOT EXISTS price_analysis_history (
	id                  TEXT PRIMARY KEY,
	analysis_id         TEXT NOT NULL DEFAULT '',
	material_id         TEXT NOT NULL,
	status              TEXT NOT NULL,
	predicted_price_min REAL,
	predicted_price_max REAL,
	confidence          REAL,
	price_variance      REAL,
	risk_level          TEXT NOT NULL DEFAULT '',
	is_reasonable       INTEGER,
	reasoning           TEXT NOT NULL DEFAULT '',
	analysis_model      TEXT NOT NULL DEFAULT '',
	analysis_time       REAL NOT NULL DEFAULT 0,
	analysis_cost       REAL NOT NULL DEFAULT 0,
	analyzed_at         DATETIME,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_materials_project ON project_materials(project_id);
CREATE INDEX IF NOT EXISTS idx_references_lookup ON reference_materials(price_type, issue_period, province, city, district);
CREATE INDEX IF NOT EXISTS idx_history_material_created ON price_analysis_history(material_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *model.Project) error {
	if err := p.Validate(); err != nil {
		return eris.Wrap(err, "sqlite: create project")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, code, location, base_province, base_city, base_district,
			base_price_date, contract_start, contract_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Code, p.Location, p.BaseProvince, p.BaseCity, p.BaseDistrict,
		p.BasePriceDate.String(), ymPtrString(p.Contract.Start), ymPtrString(p.Contract.End),
		now, now,
	)
	return eris.Wrap(err, "sqlite: insert project")
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	var baseDate string
	var contractStart, contractEnd *string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, code, location, base_province, base_city, base_district,
			base_price_date, contract_start, contract_end, created_at, updated_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Code, &p.Location, &p.BaseProvince, &p.BaseCity,
		&p.BaseDistrict, &baseDate, &contractStart, &contractEnd, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get project %s", id)
	}

	if p.BasePriceDate, err = model.ParseYearMonth(baseDate); err != nil {
		return nil, eris.Wrapf(err, "sqlite: project %s base price date", id)
	}
	if p.Contract.Start, err = ymPtrParse(contractStart); err != nil {
		return nil, eris.Wrapf(err, "sqlite: project %s contract start", id)
	}
	if p.Contract.End, err = ymPtrParse(contractEnd); err != nil {
		return nil, eris.Wrapf(err, "sqlite: project %s contract end", id)
	}
	return &p, nil
}

// --- Project materials ---

func (s *SQLiteStore) CreateMaterials(ctx context.Context, materials []model.ProjectMaterial) error {
	if len(materials) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO project_materials (id, project_id, seq, name, specification, unit,
			category, quantity, reported_price, matched, reference_id, match_score,
			match_method, analyzed, problematic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert material")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range materials {
		m := &materials[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		m.CreatedAt, m.UpdatedAt = now, now
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.ProjectID, m.Seq, m.Name, m.Specification, m.Unit, m.Category,
			m.Quantity, m.ReportedPrice, m.Matched, m.ReferenceID, m.MatchScore,
			m.MatchMethod, m.Analyzed, m.Problematic, now, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert material %s", m.Name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit materials")
}

func (s *SQLiteStore) GetMaterial(ctx context.Context, id string) (*model.ProjectMaterial, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+materialColumns+` FROM project_materials WHERE id = ?`, id)
	m, err := scanMaterialSQL(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get material %s", id)
	}
	return m, nil
}

func (s *SQLiteStore) ListProjectMaterials(ctx context.Context, projectID string, filter MaterialFilter) ([]model.ProjectMaterial, int, error) {
	where := []string{"project_id = ?"}
	args := []any{projectID}

	appendBool := func(col string, v *bool) {
		if v != nil {
			where = append(where, col+" = ?")
			args = append(args, *v)
		}
	}
	appendBool("matched", filter.Matched)
	appendBool("analyzed", filter.Analyzed)
	appendBool("problematic", filter.Problematic)

	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM project_materials WHERE `+whereSQL, args...,
	).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count materials")
	}

	query := `SELECT ` + materialColumns + ` FROM project_materials WHERE ` + whereSQL + ` ORDER BY seq, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list materials")
	}
	defer rows.Close()

	var items []model.ProjectMaterial
	for rows.Next() {
		m, err := scanMaterialSQL(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan material")
		}
		items = append(items, *m)
	}
	return items, total, eris.Wrap(rows.Err(), "sqlite: list materials")
}

func (s *SQLiteStore) UpdateMaterialMatch(ctx context.Context, m *model.ProjectMaterial) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE project_materials
		SET matched = ?, reference_id = ?, match_score = ?, match_method = ?,
			problematic = ?, updated_at = ?
		WHERE id = ?`,
		m.Matched, m.ReferenceID, m.MatchScore, m.MatchMethod, m.Problematic,
		time.Now().UTC(), m.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update match %s", m.ID)
	}
	return checkRowsAffected(res, "material", m.ID)
}

func (s *SQLiteStore) UpdateMaterialAnalysisState(ctx context.Context, materialID string, analyzed, problematic bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE project_materials SET analyzed = ?, problematic = ?, updated_at = ? WHERE id = ?`,
		analyzed, problematic, time.Now().UTC(), materialID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update analysis state %s", materialID)
	}
	return checkRowsAffected(res, "material", materialID)
}

// --- Reference catalogue ---

func (s *SQLiteStore) UpsertReferenceMaterials(ctx context.Context, refs []model.ReferenceMaterial) (int64, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reference_materials (id, material_code, name, specification, unit,
			category, price_type, province, city, district, issue_period,
			price_excluding_tax, price_including_tax, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, specification, unit, price_type, province, city, district, issue_period)
		DO UPDATE SET material_code = excluded.material_code,
			category = excluded.category,
			price_excluding_tax = excluded.price_excluding_tax,
			price_including_tax = excluded.price_including_tax,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert reference")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var n int64
	for i := range refs {
		r := &refs[i]
		if err := r.Validate(); err != nil {
			return 0, eris.Wrap(err, "sqlite: upsert references")
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.MaterialCode, r.Name, r.Specification, r.Unit, r.Category,
			string(r.PriceType), r.Province, r.City, r.District, r.IssuePeriod.String(),
			r.PriceExcludingTax, r.PriceIncludingTax, now, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert reference %s", r.Name)
		}
		n++
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: commit references")
}

func (s *SQLiteStore) LoadReferenceCandidates(ctx context.Context, q CandidateQuery) ([]model.ReferenceMaterial, error) {
	where := []string{"price_type = ?", "issue_period = ?"}
	args := []any{string(q.PriceType), q.Period.String()}

	appendEq := func(col, v string) {
		if v != "" {
			where = append(where, col+" = ?")
			args = append(args, v)
		}
	}
	appendEq("province", q.Province)
	appendEq("city", q.City)
	appendEq("district", q.District)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+referenceColumns+` FROM reference_materials WHERE `+
			strings.Join(where, " AND ")+` ORDER BY id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load candidates")
	}
	defer rows.Close()

	return collectReferencesSQL(rows)
}

func (s *SQLiteStore) LoadReferencePeers(ctx context.Context, ref *model.ReferenceMaterial, window model.ContractWindow) ([]model.ReferenceMaterial, error) {
	var where []string
	var args []any

	if ref.MaterialCode != "" {
		where = append(where, "material_code = ?")
		args = append(args, ref.MaterialCode)
	} else {
		where = append(where, "name = ?", "specification = ?", "unit = ?",
			"price_type = ?", "province = ?", "city = ?", "district = ?")
		args = append(args, ref.Name, ref.Specification, ref.Unit,
			string(ref.PriceType), ref.Province, ref.City, ref.District)
	}

	if window.Start != nil {
		where = append(where, "issue_period >= ?")
		args = append(args, window.Start.String())
	}
	if window.End != nil {
		where = append(where, "issue_period <= ?")
		args = append(args, window.End.String())
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+referenceColumns+` FROM reference_materials WHERE `+
			strings.Join(where, " AND ")+` ORDER BY issue_period, id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load peers")
	}
	defer rows.Close()

	return collectReferencesSQL(rows)
}

func (s *SQLiteStore) GetReferenceMaterial(ctx context.Context, id string) (*model.ReferenceMaterial, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+referenceColumns+` FROM reference_materials WHERE id = ?`, id)
	r, err := scanReferenceSQL(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get reference %s", id)
	}
	return r, nil
}

// --- Current analyses ---

func (s *SQLiteStore) GetCurrentAnalysis(ctx context.Context, materialID string) (*model.PriceAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM price_analyses WHERE material_id = ?`, materialID)
	a, err := scanAnalysisSQL(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis for %s", materialID)
	}
	return a, nil
}

func (s *SQLiteStore) UpsertCurrentAnalysis(ctx context.Context, a *model.PriceAnalysis) error {
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
		return eris.Wrap(err, "sqlite: marshal data sources")
	}
	var responseJSON []byte
	if a.APIResponse != nil {
		if responseJSON, err = json.Marshal(a.APIResponse); err != nil {
			return eris.Wrap(err, "sqlite: marshal api response")
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO price_analyses (id, material_id, status, predicted_price_min,
			predicted_price_max, confidence, data_sources, reasoning, risk_factors,
			price_variance, risk_level, is_reasonable, analysis_model, analysis_prompt,
			api_response, analysis_time, analysis_cost, error_message,
			created_at, updated_at, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (material_id) DO UPDATE SET
			status = excluded.status,
			predicted_price_min = excluded.predicted_price_min,
			predicted_price_max = excluded.predicted_price_max,
			confidence = excluded.confidence,
			data_sources = excluded.data_sources,
			reasoning = excluded.reasoning,
			risk_factors = excluded.risk_factors,
			price_variance = excluded.price_variance,
			risk_level = excluded.risk_level,
			is_reasonable = excluded.is_reasonable,
			analysis_model = excluded.analysis_model,
			analysis_prompt = excluded.analysis_prompt,
			api_response = excluded.api_response,
			analysis_time = excluded.analysis_time,
			analysis_cost = excluded.analysis_cost,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at,
			analyzed_at = excluded.analyzed_at`,
		a.ID, a.MaterialID, string(a.Status), a.PredictedPriceMin, a.PredictedPriceMax,
		a.Confidence, string(sourcesJSON), a.Reasoning, strings.Join(a.RiskFactors, "; "),
		a.PriceVariance, string(a.RiskLevel), a.IsReasonable, a.AnalysisModel,
		a.AnalysisPrompt, nullableString(responseJSON), a.AnalysisTime, a.AnalysisCost,
		a.ErrorMessage, a.CreatedAt, a.UpdatedAt, a.AnalyzedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert analysis for %s", a.MaterialID)
}

func (s *SQLiteStore) DeleteCurrentAnalyses(ctx context.Context, materialIDs []string) (int64, error) {
	if len(materialIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(materialIDs)), ",")
	args := make([]any, len(materialIDs))
	for i, id := range materialIDs {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM price_analyses WHERE material_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete analyses")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete analyses")
}

func (s *SQLiteStore) ListProjectAnalyses(ctx context.Context, projectID string) ([]model.PriceAnalysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("a", analysisColumns)+`
		FROM price_analyses a
		JOIN project_materials m ON m.id = a.material_id
		WHERE m.project_id = ?
		ORDER BY m.seq, m.id`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list project analyses")
	}
	defer rows.Close()

	var analyses []model.PriceAnalysis
	for rows.Next() {
		a, err := scanAnalysisSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		analyses = append(analyses, *a)
	}
	return analyses, eris.Wrap(rows.Err(), "sqlite: list project analyses")
}

// --- History ---

func (s *SQLiteStore) AppendHistory(ctx context.Context, h *model.AnalysisHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_analysis_history (id, analysis_id, material_id, status,
			predicted_price_min, predicted_price_max, confidence, price_variance,
			risk_level, is_reasonable, reasoning, analysis_model, analysis_time,
			analysis_cost, analyzed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.AnalysisID, h.MaterialID, string(h.Status),
		h.PredictedPriceMin, h.PredictedPriceMax, h.Confidence, h.PriceVariance,
		string(h.RiskLevel), h.IsReasonable, h.Reasoning, h.AnalysisModel,
		h.AnalysisTime, h.AnalysisCost, h.AnalyzedAt, h.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append history for %s", h.MaterialID)
}

func (s *SQLiteStore) LatestHistory(ctx context.Context, materialID string) (*model.AnalysisHistory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM price_analysis_history
		WHERE material_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, materialID)
	h, err := scanHistorySQL(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest history for %s", materialID)
	}
	return h, nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, materialID string, limit int) ([]model.AnalysisHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM price_analysis_history
		WHERE material_id = ? ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, materialID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list history for %s", materialID)
	}
	defer rows.Close()

	var entries []model.AnalysisHistory
	for rows.Next() {
		h, err := scanHistorySQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		entries = append(entries, *h)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list history")
}

// --- scan helpers (database/sql) ---

type sqlRow interface {
	Scan(dest ...any) error
}

func scanMaterialSQL(row sqlRow) (*model.ProjectMaterial, error) {
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

func scanReferenceSQL(row sqlRow) (*model.ReferenceMaterial, error) {
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

func collectReferencesSQL(rows *sql.Rows) ([]model.ReferenceMaterial, error) {
	var refs []model.ReferenceMaterial
	for rows.Next() {
		r, err := scanReferenceSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reference")
		}
		refs = append(refs, *r)
	}
	return refs, eris.Wrap(rows.Err(), "sqlite: collect references")
}

func scanAnalysisSQL(row sqlRow) (*model.PriceAnalysis, error) {
	var a model.PriceAnalysis
	var status, riskLevel, riskFactors string
	var sourcesJSON, responseJSON *string

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
	if sourcesJSON != nil && *sourcesJSON != "" {
		if err := json.Unmarshal([]byte(*sourcesJSON), &a.DataSources); err != nil {
			return nil, eris.Wrap(err, "unmarshal data sources")
		}
	}
	if responseJSON != nil && *responseJSON != "" {
		if err := json.Unmarshal([]byte(*responseJSON), &a.APIResponse); err != nil {
			return nil, eris.Wrap(err, "unmarshal api response")
		}
	}
	return &a, nil
}

func scanHistorySQL(row sqlRow) (*model.AnalysisHistory, error) {
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

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
