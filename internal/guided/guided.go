// Package guided computes price adjustments for matched materials by
// comparing the reported price against its guided-price reference and the
// contract-period average of that reference's peers.
package guided

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/risk"
	"github.com/sells-group/price-audit/internal/store"
	"github.com/sells-group/price-audit/internal/unit"
)

// DefaultThreshold is the tolerated relative deviation between the contract
// average and the base guided price.
const DefaultThreshold = 0.05

// Failure reasons recorded on items the engine cannot process.
const (
	ReasonUnitIncompatible = "unit_incompatible"
	ReasonMissingBasePrice = "missing_base_price"
	ReasonNotMatched       = "not_matched"
)

// Engine runs the guided-price differential over matched materials.
type Engine struct {
	store     store.Store
	threshold float64
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides the deviation threshold.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 {
			e.threshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine backed by the given store.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{store: st, threshold: DefaultThreshold, logger: zap.L()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result carries the computed differential for one material.
type Result struct {
	MaterialID string

	BasePrice       float64
	ContractAverage float64
	RiskRate        float64
	AdjustmentUnit  float64
	TotalAdjustment float64
	PriceDiff       float64
	PeerCount       int

	Reasonable bool
	RiskLevel  model.RiskLevel
}

// Summary aggregates one engine run over a project.
type Summary struct {
	Processed int
	Adjusted  int
	Failed    int
	Results   []Result
}

// RunProject computes differentials for every matched material of a project.
// Per-item failures are recorded on the item and do not stop the run.
func (e *Engine) RunProject(ctx context.Context, project *model.Project) (*Summary, error) {
	matched := true
	materials, _, err := e.store.ListProjectMaterials(ctx, project.ID, store.MaterialFilter{Matched: &matched})
	if err != nil {
		return nil, eris.Wrap(err, "guided: list matched materials")
	}

	sum := &Summary{}
	for i := range materials {
		res, err := e.AnalyseItem(ctx, project, &materials[i])
		if err != nil {
			sum.Failed++
			e.logger.Warn("guided analysis failed",
				zap.String("material", materials[i].Name),
				zap.Error(err))
			continue
		}
		sum.Processed++
		if res.AdjustmentUnit != 0 {
			sum.Adjusted++
		}
		sum.Results = append(sum.Results, *res)
	}

	e.logger.Info("guided differential complete",
		zap.String("project", project.ID),
		zap.Int("processed", sum.Processed),
		zap.Int("adjusted", sum.Adjusted),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// AnalyseItem computes and persists the differential for one matched
// material. Unprocessable items get a failed analysis row with the reason and
// an error return.
func (e *Engine) AnalyseItem(ctx context.Context, project *model.Project, item *model.ProjectMaterial) (*Result, error) {
	if !item.Matched || item.ReferenceID == "" {
		return nil, e.fail(ctx, item, ReasonNotMatched)
	}

	ref, err := e.store.GetReferenceMaterial(ctx, item.ReferenceID)
	if err != nil {
		return nil, eris.Wrapf(err, "guided: load reference %s", item.ReferenceID)
	}
	if ref == nil {
		return nil, e.fail(ctx, item, ReasonNotMatched)
	}

	if ref.PriceExcludingTax <= 0 {
		return nil, e.fail(ctx, item, ReasonMissingBasePrice)
	}

	basePrice, ok := priceInUnit(ref.PriceExcludingTax, item.Unit, ref.Unit, item.Specification)
	if !ok {
		return nil, e.fail(ctx, item, ReasonUnitIncompatible)
	}

	peers, err := e.store.LoadReferencePeers(ctx, ref, project.Contract)
	if err != nil {
		return nil, eris.Wrapf(err, "guided: load peers for %s", ref.ID)
	}

	// peers that cannot be expressed in the project unit are dropped
	var peerPrices []float64
	for i := range peers {
		if peers[i].PriceExcludingTax <= 0 {
			continue
		}
		if p, ok := priceInUnit(peers[i].PriceExcludingTax, item.Unit, peers[i].Unit, item.Specification); ok {
			peerPrices = append(peerPrices, p)
		}
	}
	if len(peerPrices) == 0 {
		peerPrices = []float64{basePrice}
	}

	avg := mean(peerPrices)
	riskRate := (avg - basePrice) / basePrice

	var adjustmentUnit float64
	if math.Abs(riskRate) > e.threshold {
		if riskRate > 0 {
			adjustmentUnit = avg - basePrice*(1+e.threshold)
		} else {
			adjustmentUnit = avg - basePrice*(1-e.threshold)
		}
	}

	res := &Result{
		MaterialID:      item.ID,
		BasePrice:       basePrice,
		ContractAverage: avg,
		RiskRate:        riskRate,
		AdjustmentUnit:  adjustmentUnit,
		TotalAdjustment: adjustmentUnit * item.Quantity,
		PriceDiff:       item.ReportedPrice - basePrice,
		PeerCount:       len(peerPrices),
		Reasonable:      math.Abs(riskRate) <= e.threshold,
		RiskLevel:       differenceLevel(riskRate),
	}

	if err := e.persist(ctx, item, ref, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) persist(ctx context.Context, item *model.ProjectMaterial, ref *model.ReferenceMaterial, res *Result) error {
	now := time.Now().UTC()
	analysis := &model.PriceAnalysis{
		MaterialID:        item.ID,
		Status:            model.AnalysisCompleted,
		PredictedPriceMin: model.Float64Ptr(res.ContractAverage),
		PredictedPriceMax: model.Float64Ptr(res.ContractAverage),
		PriceVariance:     risk.Variance(item.ReportedPrice, &res.ContractAverage, &res.ContractAverage),
		RiskLevel:         res.RiskLevel,
		IsReasonable:      model.BoolPtr(res.Reasonable),
		AnalysisModel:     model.ModelGuidedComparison,
		AnalyzedAt:        &now,
		APIResponse: map[string]any{
			"reference_id":     ref.ID,
			"base_price":       res.BasePrice,
			"contract_average": res.ContractAverage,
			"risk_rate":        res.RiskRate,
			"adjustment_unit":  res.AdjustmentUnit,
			"total_adjustment": res.TotalAdjustment,
			"price_diff":       res.PriceDiff,
			"peer_count":       res.PeerCount,
			"reported_price":   item.ReportedPrice,
			"quantity":         item.Quantity,
			"reference_unit":   ref.Unit,
			"project_unit":     item.Unit,
			"issue_period":     ref.IssuePeriod.String(),
			"threshold":        e.threshold,
		},
	}

	// single upsert keyed on material_id; no delete first, so a crash can
	// never leave the item without a current row
	if err := e.store.UpsertCurrentAnalysis(ctx, analysis); err != nil {
		return eris.Wrapf(err, "guided: persist analysis for %s", item.ID)
	}
	if err := e.store.UpdateMaterialAnalysisState(ctx, item.ID, true, !res.Reasonable); err != nil {
		return eris.Wrapf(err, "guided: update material state for %s", item.ID)
	}
	return nil
}

// fail records a failed analysis row carrying the reason and returns it as an
// error so the caller counts the item.
func (e *Engine) fail(ctx context.Context, item *model.ProjectMaterial, reason string) error {
	analysis := &model.PriceAnalysis{
		MaterialID:    item.ID,
		Status:        model.AnalysisFailed,
		AnalysisModel: model.ModelGuidedComparison,
		ErrorMessage:  reason,
	}
	if err := e.store.UpsertCurrentAnalysis(ctx, analysis); err != nil {
		return eris.Wrapf(err, "guided: persist failure for %s", item.ID)
	}
	if err := e.store.UpdateMaterialAnalysisState(ctx, item.ID, true, true); err != nil {
		return eris.Wrapf(err, "guided: update material state for %s", item.ID)
	}
	return eris.Errorf("guided: %s: %s", item.ID, reason)
}

// priceInUnit restates a per-reference-unit price in the project unit.
func priceInUnit(price float64, projectUnit, refUnit, spec string) (float64, bool) {
	return unit.ConvertUnitPrice(price, projectUnit, refUnit, spec)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// differenceLevel grades the absolute deviation of the contract average from
// the base price.
func differenceLevel(rate float64) model.RiskLevel {
	abs := math.Abs(rate)
	switch {
	case abs < 0.05:
		return model.RiskNormal
	case abs < 0.15:
		return model.RiskLow
	case abs < 0.30:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}
