// Package store persists projects, catalogues and analysis state. Postgres
// is the production backend; SQLite serves single-user and offline runs.
package store

import (
	"context"

	"github.com/sells-group/price-audit/internal/model"
)

// MaterialFilter narrows a material listing.
type MaterialFilter struct {
	Matched     *bool `json:"matched,omitempty"`
	Analyzed    *bool `json:"analyzed,omitempty"`
	Problematic *bool `json:"problematic,omitempty"`
	Limit       int   `json:"limit,omitempty"`
	Offset      int   `json:"offset,omitempty"`
}

// CandidateQuery selects one tier of the reference catalogue: an issue
// period, a price type and whichever region fields the pass pins down.
type CandidateQuery struct {
	Period    model.YearMonth
	PriceType model.PriceType
	Province  string
	City      string
	District  string
}

// Store defines the persistence surface the audit pipeline composes. Each
// operation is transactional on its own; callers never span a transaction
// across operations.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)

	// Project materials
	CreateMaterials(ctx context.Context, materials []model.ProjectMaterial) error
	GetMaterial(ctx context.Context, id string) (*model.ProjectMaterial, error)
	ListProjectMaterials(ctx context.Context, projectID string, filter MaterialFilter) ([]model.ProjectMaterial, int, error)
	UpdateMaterialMatch(ctx context.Context, m *model.ProjectMaterial) error
	UpdateMaterialAnalysisState(ctx context.Context, materialID string, analyzed, problematic bool) error

	// Reference catalogue
	UpsertReferenceMaterials(ctx context.Context, refs []model.ReferenceMaterial) (int64, error)
	LoadReferenceCandidates(ctx context.Context, q CandidateQuery) ([]model.ReferenceMaterial, error)
	LoadReferencePeers(ctx context.Context, ref *model.ReferenceMaterial, window model.ContractWindow) ([]model.ReferenceMaterial, error)
	GetReferenceMaterial(ctx context.Context, id string) (*model.ReferenceMaterial, error)

	// Current analyses
	GetCurrentAnalysis(ctx context.Context, materialID string) (*model.PriceAnalysis, error)
	UpsertCurrentAnalysis(ctx context.Context, a *model.PriceAnalysis) error
	DeleteCurrentAnalyses(ctx context.Context, materialIDs []string) (int64, error)
	ListProjectAnalyses(ctx context.Context, projectID string) ([]model.PriceAnalysis, error)

	// History
	AppendHistory(ctx context.Context, h *model.AnalysisHistory) error
	LatestHistory(ctx context.Context, materialID string) (*model.AnalysisHistory, error)
	ListHistory(ctx context.Context, materialID string, limit int) ([]model.AnalysisHistory, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
