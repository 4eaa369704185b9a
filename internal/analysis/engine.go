// Package analysis orchestrates AI price analysis for project materials that
// the catalogue could not cover: archival of prior results, provider calls
// with failover, band fusion across cited sources, and risk grading.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/provider"
	"github.com/sells-group/price-audit/internal/region"
	"github.com/sells-group/price-audit/internal/risk"
	"github.com/sells-group/price-audit/internal/store"
)

// DefaultConcurrency bounds the provider fan-out for large batches.
const DefaultConcurrency = 20

// archiveDedupWindow suppresses a history snapshot when the latest archive
// entry already captures the same outcome this recently.
const archiveDedupWindow = 60 * time.Second

// serialCutoff is the batch size at or below which items run one by one.
const serialCutoff = 2

// processingGrace is how long a processing record blocks a re-run. Past it
// the record is treated as abandoned by a crashed invocation.
const processingGrace = 5 * time.Minute

// Analyser is the provider surface the engine needs; *provider.Manager
// implements it.
type Analyser interface {
	Analyse(ctx context.Context, req provider.Request, preferred string) (*provider.Result, error)
}

// Engine runs AI analyses and persists their outcomes.
type Engine struct {
	store       store.Store
	providers   Analyser
	logger      *zap.Logger
	concurrency int
	limiter     *rate.Limiter
	force       bool
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds the parallel fan-out.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithRateLimit paces provider calls to at most n per minute.
func WithRateLimit(perMinute int) Option {
	return func(e *Engine) {
		if perMinute > 0 {
			e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

// WithForce re-runs items that already have a completed analysis. Items
// still inside the processing grace window are skipped regardless.
func WithForce(force bool) Option {
	return func(e *Engine) { e.force = force }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// withClock injects a clock for tests.
func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(st store.Store, providers Analyser, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		providers:   providers,
		logger:      zap.L(),
		concurrency: DefaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Summary counts the outcomes of one batch run. Per-item results are read
// back through the current-analysis and history queries.
type Summary struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int
}

// AnalyseBatch runs AI analysis over the given materials. Items with a
// completed analysis are skipped unless the engine runs forced, and items
// whose processing record is younger than the grace window are skipped
// either way. Small batches run serially; larger ones fan the provider
// calls out over a bounded pool, with all database writes staying on the
// orchestrating goroutine.
func (e *Engine) AnalyseBatch(ctx context.Context, project *model.Project, materials []model.ProjectMaterial, preferred string) (*Summary, error) {
	sum := &Summary{Total: len(materials)}
	if len(materials) == 0 {
		return sum, nil
	}

	eligible := make([]*model.ProjectMaterial, 0, len(materials))
	for i := range materials {
		skip, reason, err := e.shouldSkip(ctx, &materials[i])
		if err != nil {
			return sum, err
		}
		if skip {
			sum.Skipped++
			e.logger.Debug("material skipped",
				zap.String("material", materials[i].Name),
				zap.String("reason", reason))
			continue
		}
		eligible = append(eligible, &materials[i])
	}
	if len(eligible) == 0 {
		return sum, nil
	}

	if len(eligible) <= serialCutoff {
		for _, item := range eligible {
			if err := ctx.Err(); err != nil {
				return sum, eris.Wrap(err, "analysis: batch cancelled")
			}
			if _, err := e.AnalyseMaterial(ctx, project, item, preferred); err != nil {
				sum.Failed++
				continue
			}
			sum.Completed++
		}
		return sum, nil
	}

	// phase 1: archive and mark every item processing before any call goes out
	for _, item := range eligible {
		if err := e.beginProcessing(ctx, item); err != nil {
			return sum, err
		}
	}

	// phase 2: provider fan-out; results land in the slice, never the DB
	results := make([]callOutcome, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range eligible {
		g.Go(func() error {
			results[i] = e.callProvider(gctx, project, eligible[i], preferred)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, eris.Wrap(err, "analysis: batch fan-out")
	}

	// phase 3: commit outcomes serially
	for i, item := range eligible {
		var err error
		if results[i].err != nil {
			err = e.commitFailure(ctx, item, results[i].err)
		} else {
			_, err = e.commitSuccess(ctx, item, results[i].result)
		}
		if err != nil || results[i].err != nil {
			sum.Failed++
			continue
		}
		sum.Completed++
	}

	e.logger.Info("analysis batch complete",
		zap.String("project", project.ID),
		zap.Int("total", sum.Total),
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped))
	return sum, nil
}

// shouldSkip decides whether a batch leaves an item alone: completed
// analyses stand unless forced, and a processing record younger than the
// grace window belongs to a run that may still be live.
func (e *Engine) shouldSkip(ctx context.Context, item *model.ProjectMaterial) (bool, string, error) {
	current, err := e.store.GetCurrentAnalysis(ctx, item.ID)
	if err != nil {
		return false, "", eris.Wrapf(err, "analysis: load current for %s", item.ID)
	}
	if current == nil {
		return false, "", nil
	}
	switch current.Status {
	case model.AnalysisCompleted:
		if !e.force {
			return true, "already completed", nil
		}
	case model.AnalysisProcessing:
		ref := current.UpdatedAt
		if ref.IsZero() {
			ref = current.CreatedAt
		}
		if e.now().Sub(ref) < processingGrace {
			return true, "processing elsewhere", nil
		}
	}
	return false, "", nil
}

type callOutcome struct {
	result *provider.Result
	err    error
}

// AnalyseMaterial runs the full pipeline for a single item: archive the prior
// result, mark processing, call the provider chain, fuse and grade, persist.
func (e *Engine) AnalyseMaterial(ctx context.Context, project *model.Project, item *model.ProjectMaterial, preferred string) (*model.PriceAnalysis, error) {
	if err := e.beginProcessing(ctx, item); err != nil {
		return nil, err
	}

	out := e.callProvider(ctx, project, item, preferred)
	if out.err != nil {
		if err := e.commitFailure(ctx, item, out.err); err != nil {
			return nil, err
		}
		return nil, out.err
	}
	return e.commitSuccess(ctx, item, out.result)
}

// beginProcessing archives a completed prior result (unless the latest
// history row already captures it) and transitions the current record to
// processing.
func (e *Engine) beginProcessing(ctx context.Context, item *model.ProjectMaterial) error {
	current, err := e.store.GetCurrentAnalysis(ctx, item.ID)
	if err != nil {
		return eris.Wrapf(err, "analysis: load current for %s", item.ID)
	}

	if current != nil && current.Status == model.AnalysisCompleted {
		if err := e.archive(ctx, current); err != nil {
			return err
		}
	}

	next := &model.PriceAnalysis{
		MaterialID: item.ID,
		Status:     model.AnalysisProcessing,
	}
	if current != nil {
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
	}
	return eris.Wrapf(e.store.UpsertCurrentAnalysis(ctx, next), "analysis: mark processing for %s", item.ID)
}

// archive snapshots the record into history unless the latest archive entry
// has the same outcome and is recent enough to be the same event.
func (e *Engine) archive(ctx context.Context, current *model.PriceAnalysis) error {
	latest, err := e.store.LatestHistory(ctx, current.MaterialID)
	if err != nil {
		return eris.Wrapf(err, "analysis: load history for %s", current.MaterialID)
	}
	if latest != nil && latest.SameOutcome(current) {
		ref := current.CreatedAt
		if current.AnalyzedAt != nil {
			ref = *current.AnalyzedAt
		} else if !current.UpdatedAt.IsZero() {
			ref = current.UpdatedAt
		}
		if absDuration(latest.CreatedAt.Sub(ref)) <= archiveDedupWindow {
			return nil
		}
	}

	snap := current.Snapshot()
	return eris.Wrapf(e.store.AppendHistory(ctx, &snap), "analysis: archive %s", current.MaterialID)
}

func (e *Engine) callProvider(ctx context.Context, project *model.Project, item *model.ProjectMaterial, preferred string) callOutcome {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return callOutcome{err: eris.Wrap(err, "analysis: rate limit wait")}
		}
	}

	req := provider.Request{
		MaterialName:  item.Name,
		Specification: item.Specification,
		Unit:          item.Unit,
		Region:        region.Resolve(project.BaseProvince, project.BaseCity, project.BaseDistrict, project.Location),
		AnalysisDate:  e.now(),
	}
	res, err := e.providers.Analyse(ctx, req, preferred)
	return callOutcome{result: res, err: err}
}

func (e *Engine) commitSuccess(ctx context.Context, item *model.ProjectMaterial, res *provider.Result) (*model.PriceAnalysis, error) {
	fusedMin, fusedMax, note := fuseBand(res)

	variance := risk.Variance(item.ReportedPrice, fusedMin, fusedMax)
	reasonable := risk.IsReasonable(item.ReportedPrice, fusedMin, fusedMax)
	level := risk.Level(variance)

	reasoning := res.Reasoning
	if note != "" {
		reasoning = strings.TrimSpace(reasoning + "\n\n" + note)
	}

	now := e.now()
	confidence := res.Confidence
	a := &model.PriceAnalysis{
		MaterialID:        item.ID,
		Status:            model.AnalysisCompleted,
		PredictedPriceMin: fusedMin,
		PredictedPriceMax: fusedMax,
		Confidence:        &confidence,
		DataSources:       res.DataSources,
		Reasoning:         reasoning,
		RiskFactors:       res.RiskFactors,
		PriceVariance:     variance,
		RiskLevel:         level,
		IsReasonable:      reasonable,
		AnalysisModel:     res.Model,
		AnalysisPrompt:    res.Prompt,
		APIResponse: map[string]any{
			"provider":     res.Provider,
			"raw_response": res.RawResponse,
			"parse_error":  res.ParseError,
		},
		AnalysisTime: res.Elapsed.Seconds(),
		AnalysisCost: res.Cost,
		AnalyzedAt:   &now,
	}

	if err := e.store.UpsertCurrentAnalysis(ctx, a); err != nil {
		return nil, eris.Wrapf(err, "analysis: persist result for %s", item.ID)
	}
	snap := a.Snapshot()
	if err := e.store.AppendHistory(ctx, &snap); err != nil {
		return nil, eris.Wrapf(err, "analysis: archive result for %s", item.ID)
	}

	problematic := reasonable != nil && !*reasonable
	if err := e.store.UpdateMaterialAnalysisState(ctx, item.ID, true, problematic); err != nil {
		return nil, eris.Wrapf(err, "analysis: update material state for %s", item.ID)
	}

	e.logger.Info("material analysed",
		zap.String("material", item.Name),
		zap.String("provider", res.Provider),
		zap.String("risk_level", string(level)))
	return a, nil
}

func (e *Engine) commitFailure(ctx context.Context, item *model.ProjectMaterial, cause error) error {
	a := &model.PriceAnalysis{
		MaterialID:   item.ID,
		Status:       model.AnalysisFailed,
		Reasoning:    cause.Error(),
		ErrorMessage: cause.Error(),
	}
	if err := e.store.UpsertCurrentAnalysis(ctx, a); err != nil {
		return eris.Wrapf(err, "analysis: persist failure for %s", item.ID)
	}
	snap := a.Snapshot()
	if err := e.store.AppendHistory(ctx, &snap); err != nil {
		return eris.Wrapf(err, "analysis: archive failure for %s", item.ID)
	}

	e.logger.Warn("material analysis failed",
		zap.String("material", item.Name),
		zap.Error(cause))
	return nil
}

// fuseBand combines per-source bands into one, weighting each source by its
// reliability. Sources without a full band contribute nothing. Falls back to
// the provider-level band and returns a note describing the weighting.
func fuseBand(res *provider.Result) (*float64, *float64, string) {
	var sumW, sumMin, sumMax float64
	var lines []string

	for _, s := range res.DataSources {
		if s.PriceMin == nil || s.PriceMax == nil {
			continue
		}
		w := provider.ReliabilityWeight(s.Reliability)
		sumW += w
		sumMin += w * *s.PriceMin
		sumMax += w * *s.PriceMax
		lines = append(lines, fmt.Sprintf("%s 权重 %.2f 区间 [%.2f, %.2f]",
			sourceLabel(s), w, *s.PriceMin, *s.PriceMax))
	}

	if sumW == 0 {
		return res.PredictedPriceMin, res.PredictedPriceMax, ""
	}

	fusedMin := sumMin / sumW
	fusedMax := sumMax / sumW
	if fusedMin > fusedMax {
		fusedMin, fusedMax = fusedMax, fusedMin
	}

	note := fmt.Sprintf("【加权融合】综合 %d 个数据来源:%s;融合区间 [%.2f, %.2f]",
		len(lines), strings.Join(lines, ";"), fusedMin, fusedMax)
	return &fusedMin, &fusedMax, note
}

func sourceLabel(s model.DataSource) string {
	if s.PlatformExamples != "" {
		return s.PlatformExamples
	}
	if s.SourceType != "" {
		return s.SourceType
	}
	return "未具名来源"
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
