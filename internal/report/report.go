// Package report assembles the audit report for a project from stabilised
// analysis state: totals, risk distribution, top adjustments, and the
// per-pathway material tables.
package report

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/risk"
	"github.com/sells-group/price-audit/internal/store"
)

// DefaultTopAdjustments is how many adjustment lines the summary highlights.
const DefaultTopAdjustments = 10

// Line is one material row in a report table.
type Line struct {
	Name              string  `json:"name"`
	Specification     string  `json:"specification"`
	Unit              string  `json:"unit"`
	Quantity          float64 `json:"quantity"`
	ReportedUnitPrice float64 `json:"reported_unit_price"`
	ReportedTotal     float64 `json:"reported_total"`
	AuditUnitPrice    float64 `json:"audit_unit_price"`
	AuditTotal        float64 `json:"audit_total"`
	Adjustment        float64 `json:"adjustment"`
	WeightPercent     float64 `json:"weight_percent"`

	Verdict   model.Verdict   `json:"verdict"`
	RiskLevel model.RiskLevel `json:"risk_level"`
}

// Totals summarises the whole project.
type Totals struct {
	Materials        int     `json:"materials"`
	Matched          int     `json:"matched"`
	Analyzed         int     `json:"analyzed"`
	Reasonable       int     `json:"reasonable"`
	Problematic      int     `json:"problematic"`
	Failed           int     `json:"failed"`
	EstimatedSavings float64 `json:"estimated_savings"`
}

// Adjustment is one highlighted price correction.
type Adjustment struct {
	MaterialName string  `json:"material_name"`
	Amount       float64 `json:"amount"`
	Verdict      model.Verdict
}

// Report is the assembled audit output.
type Report struct {
	Project          *model.Project          `json:"project"`
	Totals           Totals                  `json:"totals"`
	RiskDistribution map[model.RiskLevel]int `json:"risk_distribution"`
	TopAdjustments   []Adjustment            `json:"top_adjustments"`
	AnalysisTable    []Line                  `json:"analysis_materials"`
	GuidedTable      []Line                  `json:"guided_price_materials"`
}

// Builder assembles reports from the store.
type Builder struct {
	store  store.Store
	topN   int
	logger *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithTopN sets how many adjustments the summary highlights.
func WithTopN(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.topN = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder.
func NewBuilder(st store.Store, opts ...Option) *Builder {
	b := &Builder{store: st, topN: DefaultTopAdjustments, logger: zap.L()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the report for one project.
func (b *Builder) Build(ctx context.Context, projectID string) (*Report, error) {
	project, err := b.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load project %s", projectID)
	}
	if project == nil {
		return nil, eris.Errorf("report: project not found: %s", projectID)
	}

	materials, _, err := b.store.ListProjectMaterials(ctx, projectID, store.MaterialFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "report: list materials")
	}
	analyses, err := b.store.ListProjectAnalyses(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "report: list analyses")
	}
	byMaterial := make(map[string]*model.PriceAnalysis, len(analyses))
	for i := range analyses {
		byMaterial[analyses[i].MaterialID] = &analyses[i]
	}

	rep := &Report{
		Project:          project,
		RiskDistribution: map[model.RiskLevel]int{},
	}
	rep.Totals.Materials = len(materials)

	for i := range materials {
		m := &materials[i]
		if m.Matched {
			rep.Totals.Matched++
		}
		if m.Analyzed {
			rep.Totals.Analyzed++
		}

		a := byMaterial[m.ID]
		verdict := risk.Verdict(a, m.ReportedPrice)
		switch verdict {
		case model.VerdictFailed:
			rep.Totals.Failed++
		case model.VerdictMatchedReasonable, model.VerdictAIReasonable:
			rep.Totals.Reasonable++
		case model.VerdictMatchedAdjusted, model.VerdictAIOver, model.VerdictAIUnder, model.VerdictAIAbnormal:
			rep.Totals.Problematic++
		}
		if a != nil && a.RiskLevel != "" {
			rep.RiskDistribution[a.RiskLevel]++
		}

		if a == nil || a.Status != model.AnalysisCompleted {
			continue
		}

		line := buildLine(m, a, verdict)
		if a.AnalysisModel == model.ModelGuidedComparison {
			rep.GuidedTable = append(rep.GuidedTable, line)
		} else {
			rep.AnalysisTable = append(rep.AnalysisTable, line)
			if avg := avgPredicted(a); avg != nil {
				rep.Totals.EstimatedSavings += math.Max(0, m.ReportedPrice-*avg) * m.Quantity
			}
		}
	}

	fillWeights(rep.AnalysisTable)
	fillWeights(rep.GuidedTable)
	rep.TopAdjustments = topAdjustments(rep.AnalysisTable, rep.GuidedTable, b.topN)

	b.logger.Info("report assembled",
		zap.String("project", projectID),
		zap.Int("materials", rep.Totals.Materials),
		zap.Float64("estimated_savings", rep.Totals.EstimatedSavings))
	return rep, nil
}

func buildLine(m *model.ProjectMaterial, a *model.PriceAnalysis, verdict model.Verdict) Line {
	line := Line{
		Name:              m.Name,
		Specification:     m.Specification,
		Unit:              m.Unit,
		Quantity:          m.Quantity,
		ReportedUnitPrice: m.ReportedPrice,
		ReportedTotal:     m.ReportedPrice * m.Quantity,
		Verdict:           verdict,
		RiskLevel:         a.RiskLevel,
	}
	if avg := avgPredicted(a); avg != nil {
		line.AuditUnitPrice = *avg
		line.AuditTotal = *avg * m.Quantity
		line.Adjustment = line.ReportedTotal - line.AuditTotal
	}
	return line
}

func avgPredicted(a *model.PriceAnalysis) *float64 {
	if a.PredictedPriceMin == nil || a.PredictedPriceMax == nil {
		return nil
	}
	avg := (*a.PredictedPriceMin + *a.PredictedPriceMax) / 2
	return &avg
}

// fillWeights sets each line's share of the table's absolute reported total.
func fillWeights(lines []Line) {
	var sum float64
	for i := range lines {
		sum += math.Abs(lines[i].ReportedTotal)
	}
	if sum == 0 {
		return
	}
	for i := range lines {
		lines[i].WeightPercent = math.Abs(lines[i].ReportedTotal) / sum * 100
	}
}

func topAdjustments(analysis, guided []Line, n int) []Adjustment {
	var all []Adjustment
	for _, line := range append(append([]Line{}, analysis...), guided...) {
		if line.Adjustment == 0 {
			continue
		}
		all = append(all, Adjustment{
			MaterialName: line.Name,
			Amount:       line.Adjustment,
			Verdict:      line.Verdict,
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		return math.Abs(all[i].Amount) > math.Abs(all[j].Amount)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}
