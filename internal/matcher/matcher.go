// Package matcher binds project materials to reference catalogue entries.
// Matching runs in three passes over progressively wider catalogue scopes:
// district, then city, then province. An item matched in an earlier pass is
// never revisited by a later one.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/similarity"
	"github.com/sells-group/price-audit/internal/store"
	"github.com/sells-group/price-audit/internal/unit"
)

// DefaultThreshold is the minimum similarity score for an automatic match.
const DefaultThreshold = 0.85

const candidateCacheSize = 32

// Matcher resolves project materials against the reference catalogue.
type Matcher struct {
	store     store.Store
	threshold float64
	logger    *zap.Logger

	// candidate sets are shared across every item in a pass, so one load
	// per scope serves the whole batch
	cache *lru.Cache[string, []model.ReferenceMaterial]
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithThreshold overrides the automatic match threshold.
func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		if t > 0 && t <= 1 {
			m.threshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// New creates a Matcher backed by the given store.
func New(st store.Store, opts ...Option) *Matcher {
	cache, _ := lru.New[string, []model.ReferenceMaterial](candidateCacheSize)
	m := &Matcher{
		store:     st,
		threshold: DefaultThreshold,
		logger:    zap.L(),
		cache:     cache,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Outcome summarises one matching run.
type Outcome struct {
	Considered int
	Matched    int
	ByMethod   map[string]int
}

// pass is one scope level of the hierarchical search.
type pass struct {
	method string
	query  store.CandidateQuery
}

func passesFor(p *model.Project) []pass {
	var passes []pass
	if p.BaseDistrict != "" {
		passes = append(passes, pass{
			method: model.MatchMethodDistrict,
			query: store.CandidateQuery{
				Period:    p.BasePriceDate,
				PriceType: model.PriceTypeMunicipal,
				Province:  p.BaseProvince,
				City:      p.BaseCity,
				District:  p.BaseDistrict,
			},
		})
	}
	if p.BaseCity != "" {
		passes = append(passes, pass{
			method: model.MatchMethodCity,
			query: store.CandidateQuery{
				Period:    p.BasePriceDate,
				PriceType: model.PriceTypeMunicipal,
				Province:  p.BaseProvince,
				City:      p.BaseCity,
			},
		})
	}
	if p.BaseProvince != "" {
		passes = append(passes, pass{
			method: model.MatchMethodProvince,
			query: store.CandidateQuery{
				Period:    p.BasePriceDate,
				PriceType: model.PriceTypeProvincial,
				Province:  p.BaseProvince,
			},
		})
	}
	return passes
}

// MatchProject runs the hierarchical passes over the given materials and
// persists accepted matches. Items already matched are skipped. A failure to
// load a pass's candidate set aborts the run; matches persisted by earlier
// passes are kept.
func (m *Matcher) MatchProject(ctx context.Context, project *model.Project, materials []model.ProjectMaterial) (*Outcome, error) {
	out := &Outcome{ByMethod: map[string]int{}}

	unmatched := make([]*model.ProjectMaterial, 0, len(materials))
	for i := range materials {
		if !materials[i].Matched {
			unmatched = append(unmatched, &materials[i])
			out.Considered++
		}
	}
	if len(unmatched) == 0 {
		return out, nil
	}

	for _, p := range passesFor(project) {
		if len(unmatched) == 0 {
			break
		}

		candidates, err := m.candidates(ctx, p.query)
		if err != nil {
			return out, eris.Wrapf(err, "matcher: load candidates for %s pass", p.method)
		}
		if len(candidates) == 0 {
			m.logger.Debug("empty candidate set",
				zap.String("method", p.method),
				zap.String("period", p.query.Period.String()))
			continue
		}

		remaining := unmatched[:0]
		for _, item := range unmatched {
			best, score := bestCandidate(item, candidates)
			if best == nil || score < m.threshold {
				remaining = append(remaining, item)
				continue
			}

			item.SetMatch(best.ID, score, p.method)
			if err := m.store.UpdateMaterialMatch(ctx, item); err != nil {
				item.ClearMatch()
				return out, eris.Wrapf(err, "matcher: persist match for %s", item.ID)
			}

			out.Matched++
			out.ByMethod[p.method]++
			m.logger.Info("material matched",
				zap.String("material", item.Name),
				zap.String("reference_id", best.ID),
				zap.Float64("score", score),
				zap.String("method", p.method))
		}
		unmatched = remaining
	}

	m.logger.Info("matching complete",
		zap.Int("considered", out.Considered),
		zap.Int("matched", out.Matched),
		zap.Int("unmatched", len(unmatched)))
	return out, nil
}

// ApplyManualMatch binds an item to a reference chosen by a human reviewer.
func (m *Matcher) ApplyManualMatch(ctx context.Context, item *model.ProjectMaterial, referenceID string) error {
	ref, err := m.store.GetReferenceMaterial(ctx, referenceID)
	if err != nil {
		return eris.Wrap(err, "matcher: manual match")
	}
	if ref == nil {
		return eris.Errorf("matcher: reference not found: %s", referenceID)
	}

	score := similarity.Score(descriptorForItem(item), descriptorForRef(ref))
	item.SetMatch(ref.ID, score, model.MatchMethodManual)
	return eris.Wrapf(m.store.UpdateMaterialMatch(ctx, item), "matcher: persist manual match for %s", item.ID)
}

// Unmatch reverts an automatic or manual match and drops the derived
// analysis state, returning the item to the unmatched pool.
func (m *Matcher) Unmatch(ctx context.Context, item *model.ProjectMaterial) error {
	item.ClearMatch()
	if err := m.store.UpdateMaterialMatch(ctx, item); err != nil {
		return eris.Wrapf(err, "matcher: clear match for %s", item.ID)
	}
	if _, err := m.store.DeleteCurrentAnalyses(ctx, []string{item.ID}); err != nil {
		return eris.Wrapf(err, "matcher: drop analysis for %s", item.ID)
	}
	item.Analyzed = false
	item.Problematic = false
	return eris.Wrapf(m.store.UpdateMaterialAnalysisState(ctx, item.ID, false, false),
		"matcher: reset analysis state for %s", item.ID)
}

// Candidate is one scored reference entry offered for manual review.
type Candidate struct {
	Reference model.ReferenceMaterial
	Score     float64
	Method    string
}

// TopCandidates returns the n best-scoring references for an item across all
// scope levels, tightest scope first on equal scores. Used when an item fell
// below the automatic threshold and needs a human pick.
func (m *Matcher) TopCandidates(ctx context.Context, project *model.Project, item *model.ProjectMaterial, n int) ([]Candidate, error) {
	if n <= 0 {
		n = 10
	}

	seen := map[string]bool{}
	var scored []Candidate
	for _, p := range passesFor(project) {
		candidates, err := m.candidates(ctx, p.query)
		if err != nil {
			return nil, eris.Wrapf(err, "matcher: load candidates for %s pass", p.method)
		}
		for i := range candidates {
			c := &candidates[i]
			if seen[c.ID] || !passesPrefilter(item, c) {
				continue
			}
			seen[c.ID] = true
			scored = append(scored, Candidate{
				Reference: *c,
				Score:     similarity.Score(descriptorForItem(item), descriptorForRef(c)),
				Method:    p.method,
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return candidateLess(&scored[i].Reference, &scored[j].Reference)
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored, nil
}

func (m *Matcher) candidates(ctx context.Context, q store.CandidateQuery) ([]model.ReferenceMaterial, error) {
	key := cacheKey(q)
	if cached, ok := m.cache.Get(key); ok {
		return cached, nil
	}
	refs, err := m.store.LoadReferenceCandidates(ctx, q)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, refs)
	return refs, nil
}

func cacheKey(q store.CandidateQuery) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", q.PriceType, q.Period, q.Province, q.City, q.District)
}

// bestCandidate scores every prefiltered candidate and returns the winner.
// Ties go to the candidate with a material code, then the smallest id, so
// repeated runs give identical results.
func bestCandidate(item *model.ProjectMaterial, candidates []model.ReferenceMaterial) (*model.ReferenceMaterial, float64) {
	var best *model.ReferenceMaterial
	bestScore := -1.0

	desc := descriptorForItem(item)
	for i := range candidates {
		c := &candidates[i]
		if !passesPrefilter(item, c) {
			continue
		}
		score := similarity.Score(desc, descriptorForRef(c))
		switch {
		case score > bestScore:
			best, bestScore = c, score
		case score == bestScore && best != nil && candidateLess(c, best):
			best = c
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestScore
}

func candidateLess(a, b *model.ReferenceMaterial) bool {
	aCode, bCode := a.MaterialCode != "", b.MaterialCode != ""
	if aCode != bCode {
		return aCode
	}
	return a.ID < b.ID
}

// passesPrefilter prunes candidates before the similarity pass: units must be
// equal after normalisation or convertible, and at least one name keyword of
// the item must appear in the candidate name.
func passesPrefilter(item *model.ProjectMaterial, c *model.ReferenceMaterial) bool {
	if !unit.Equal(item.Unit, c.Unit) && !unit.ComparableWith(item.Unit, c.Unit, item.Specification) {
		return false
	}

	keywords := nameKeywords(item.Name)
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(c.Name, kw) {
			return true
		}
	}
	return false
}

// nameKeywords takes the first three whitespace-separated tokens longer than
// one rune. CJK names are usually a single token, which is fine: the whole
// name then acts as one keyword.
func nameKeywords(name string) []string {
	var keywords []string
	for _, tok := range strings.Fields(name) {
		if len([]rune(tok)) <= 1 {
			continue
		}
		keywords = append(keywords, tok)
		if len(keywords) == 3 {
			break
		}
	}
	return keywords
}

func descriptorForItem(m *model.ProjectMaterial) similarity.Descriptor {
	return similarity.Descriptor{
		Name:          m.Name,
		Specification: m.Specification,
		Category:      m.Category,
		Unit:          m.Unit,
	}
}

func descriptorForRef(r *model.ReferenceMaterial) similarity.Descriptor {
	return similarity.Descriptor{
		Name:          r.Name,
		Specification: r.Specification,
		Category:      r.Category,
		Unit:          r.Unit,
	}
}
