// Package resolver runs a competitor record through the ordered resolution
// stages and returns the first confident match as a NormalizedResult.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crossref-cli/internal/cache"
	"github.com/sells-group/crossref-cli/internal/cost"
	"github.com/sells-group/crossref-cli/internal/escalation"
	"github.com/sells-group/crossref-cli/internal/matcher"
	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/normalize"
	"github.com/sells-group/crossref-cli/internal/resilience"
	"github.com/sells-group/crossref-cli/internal/similarity"
)

// Defaults for Config.
const (
	DefaultMinConfidence   = 0.6
	DefaultAIConfidenceCap = 0.85
	DefaultSchemaVersion   = "v1"
)

// Config tunes stage acceptance.
type Config struct {
	MinConfidence   float64
	AIConfidenceCap float64
	ContextSize     int
	SchemaVersion   string
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.AIConfidenceCap <= 0 {
		c.AIConfidenceCap = DefaultAIConfidenceCap
	}
	if c.ContextSize <= 0 {
		c.ContextSize = escalation.DefaultContextSize
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = DefaultSchemaVersion
	}
	return c
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMatchers replaces the deterministic matchers.
func WithMatchers(ms ...matcher.Matcher) Option {
	return func(r *Resolver) { r.matchers = ms }
}

// WithAI enables the AI_ENHANCED stage.
func WithAI(ai *escalation.AIMatcher) Option {
	return func(r *Resolver) { r.ai = ai }
}

// WithWebResearch enables the WEB_RESEARCH stage.
func WithWebResearch(web *escalation.WebResearcher) Option {
	return func(r *Resolver) { r.web = web }
}

// WithCache stores external stage replies in s.
func WithCache(s cache.Store) Option {
	return func(r *Resolver) { r.cache = s }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(r *Resolver) { r.normalizer = n }
}

// Resolver is safe for concurrent use; it holds no per-call state.
type Resolver struct {
	cfg        Config
	matchers   []matcher.Matcher
	ai         *escalation.AIMatcher
	web        *escalation.WebResearcher
	cache      cache.Store
	normalizer *normalize.Normalizer
}

// New creates a Resolver. Without options only the deterministic stages run.
func New(cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:      cfg.withDefaults(),
		matchers: matcher.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.normalizer == nil {
		r.normalizer = normalize.New(normalize.Options{})
	}
	return r
}

// run is the mutable state of one Resolve call.
type run struct {
	comp      model.CompetitorRecord
	catalog   []model.CatalogRecord
	trace     []model.TraceEntry
	uncertain []model.MatchCandidate
	costUSD   float64
	research  *model.WebResearchResponse
	log       *zap.Logger
}

func (st *run) pass(stage model.Stage, conf float64, note string) {
	st.trace = append(st.trace, model.TraceEntry{Stage: stage, Passed: true, Confidence: conf, Note: note})
}

func (st *run) fail(stage model.Stage, conf float64, note string) {
	st.trace = append(st.trace, model.TraceEntry{Stage: stage, Note: note, Confidence: conf})
	st.log.Debug("resolver: stage did not clear", zap.String("stage", string(stage)), zap.String("note", note))
}

// Resolve walks the stages in order and normalizes the first accepted
// outcome, or a failed outcome when none clears MinConfidence. Stage errors
// never surface; the only returned errors are context cancellation and
// deadline.
func (r *Resolver) Resolve(ctx context.Context, comp model.CompetitorRecord, catalog []model.CatalogRecord) (*model.NormalizedResult, error) {
	st := &run{
		comp:    comp.Clone(),
		catalog: catalog,
		log:     zap.L().With(zap.String("sku", comp.SKU), zap.String("company", comp.Company)),
	}

	outcome, err := r.resolve(ctx, st)
	if err != nil {
		return nil, err
	}
	res := r.normalizer.Normalize(st.comp, outcome, normalize.Meta{Trace: st.trace, CostUSD: st.costUSD})
	st.log.Debug("resolver: resolved",
		zap.String("stage", string(res.Stage)),
		zap.Float64("confidence", res.Confidence),
		zap.Float64("cost_usd", res.CostUSD),
	)
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, st *run) (model.Outcome, error) {
	for _, m := range r.matchers {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "resolver: resolve")
		}
		if o := r.deterministic(m, st); o != nil {
			return o, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "resolver: resolve")
	}
	o, err := r.resolveAI(ctx, st)
	if err != nil || o != nil {
		return o, err
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "resolver: resolve")
	}
	o, err = r.resolveWeb(ctx, st)
	if err != nil || o != nil {
		return o, err
	}

	failed := model.FailedOutcome{
		Reason:   fmt.Sprintf("no stage reached confidence %.2f", r.cfg.MinConfidence),
		Research: st.research,
	}
	if st.research != nil {
		failed.NeedsManualReview = st.research.NeedsManualReview
	}
	return failed, nil
}

// deterministic runs one matcher and returns its outcome when the best
// candidate clears the threshold.
func (r *Resolver) deterministic(m matcher.Matcher, st *run) model.Outcome {
	stage := m.Stage()
	cands, err := safeMatch(m, st.comp, st.catalog)
	if err != nil {
		st.log.Error("resolver: matcher failed", zap.String("stage", string(stage)), zap.Error(err))
		st.fail(stage, 0, "✗ error: "+err.Error())
		return nil
	}

	best, ok := matcher.Best(cands)
	if !ok {
		st.fail(stage, 0, "✗ no candidates")
		return nil
	}
	if best.Confidence < r.cfg.MinConfidence {
		st.fail(stage, best.Confidence, fmt.Sprintf("✗ best %s at %.2f below %.2f", best.Record.SKU, best.Confidence, r.cfg.MinConfidence))
		st.uncertain = append(st.uncertain, cands...)
		return nil
	}

	alts := append([]model.MatchCandidate(nil), cands[1:]...)
	var o model.Outcome
	switch stage {
	case model.StageExact:
		o = model.ExactOutcome{Best: best, Alternatives: alts}
	case model.StageFuzzy:
		o = model.FuzzyOutcome{Best: best, Alternatives: alts}
	case model.StageSpecification:
		o = model.SpecificationOutcome{
			Best:         best,
			Alternatives: alts,
			Comparison:   matcher.CompareSpecs(st.comp.Specs, best.Record.Specs),
		}
	default:
		st.fail(stage, best.Confidence, "✗ unsupported deterministic stage")
		return nil
	}
	st.pass(stage, best.Confidence, fmt.Sprintf("✓ %s via %s at %.2f", best.Record.SKU, best.Method, best.Confidence))
	return o
}

// safeMatch turns a matcher panic into an error.
func safeMatch(m matcher.Matcher, c model.CompetitorRecord, catalog []model.CatalogRecord) (cands []model.MatchCandidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			cands = nil
			err = eris.Errorf("resolver: %s matcher panicked: %v", m.Stage(), p)
		}
	}()
	return m.Match(c, catalog), nil
}

func (r *Resolver) resolveAI(ctx context.Context, st *run) (model.Outcome, error) {
	const stage = model.StageAIEnhanced
	if !r.ai.Available() {
		st.fail(stage, 0, "✗ skipped: not configured")
		return nil, nil
	}

	catalogContext := escalation.SelectContext(st.comp, st.catalog, r.cfg.ContextSize)
	if len(catalogContext) == 0 {
		st.fail(stage, 0, "✗ skipped: empty catalog")
		return nil, nil
	}

	key := cache.Fingerprint(stage, st.comp, catalogContext, r.cfg.SchemaVersion)
	var resp model.AIResponse
	hit := r.cacheGet(ctx, key, &resp, st.log)
	if !hit {
		res, err := r.ai.Match(ctx, st.comp, catalogContext)
		if res != nil {
			st.costUSD += res.CostUSD
		}
		if err != nil {
			return nil, r.stageError(ctx, st, stage, err)
		}
		resp = res.Response
		r.cachePut(ctx, key, stage, resp, st.log)
	}

	if !resp.MatchFound || resp.MatchedSKU == "" {
		st.fail(stage, resp.Confidence, "✗ no match proposed")
		return nil, nil
	}
	rec, ok := findSKU(catalogContext, resp.MatchedSKU)
	if !ok {
		st.fail(stage, resp.Confidence, fmt.Sprintf("✗ proposed sku %q is not in the catalog context", resp.MatchedSKU))
		return nil, nil
	}

	conf := math.Min(similarity.Clamp(resp.Confidence, 0, 1), r.cfg.AIConfidenceCap)
	cand := model.MatchCandidate{
		Record:     rec.Clone(),
		Confidence: conf,
		Stage:      stage,
		Method:     model.MethodAIAnalysis,
		Reasoning:  append([]string(nil), resp.Reasoning...),
	}
	if conf < r.cfg.MinConfidence {
		st.fail(stage, conf, fmt.Sprintf("✗ %s at %.2f below %.2f", rec.SKU, conf, r.cfg.MinConfidence))
		st.uncertain = append(st.uncertain, cand)
		return nil, nil
	}

	note := fmt.Sprintf("✓ %s at %.2f", rec.SKU, conf)
	if hit {
		note += " (cached)"
	}
	st.pass(stage, conf, note)
	return model.AIOutcome{Best: cand, Response: resp, CacheHit: hit}, nil
}

func (r *Resolver) resolveWeb(ctx context.Context, st *run) (model.Outcome, error) {
	const stage = model.StageWebResearch
	if !r.web.Available() {
		st.fail(stage, 0, "✗ skipped: not configured")
		return nil, nil
	}

	uncertain := topUncertain(st.uncertain, escalation.MaxUncertain)
	records := make([]model.CatalogRecord, len(uncertain))
	for i, u := range uncertain {
		records[i] = u.Record
	}

	key := cache.Fingerprint(stage, st.comp, records, r.cfg.SchemaVersion)
	var resp model.WebResearchResponse
	hit := r.cacheGet(ctx, key, &resp, st.log)
	if !hit {
		res, err := r.web.Research(ctx, st.comp, uncertain)
		if res != nil {
			st.costUSD += res.CostUSD
		}
		if err != nil {
			return nil, r.stageError(ctx, st, stage, err)
		}
		resp = res.Response
		r.cachePut(ctx, key, stage, resp, st.log)
	}
	st.research = &resp

	if resp.EnhancedSpecs == nil {
		st.fail(stage, 0, "✗ no specifications found")
		return nil, nil
	}

	enriched := st.comp.Clone()
	enriched.Specs = st.comp.Specs.Merge(*resp.EnhancedSpecs)
	cands, err := safeMatch(matcher.Specification{}, enriched, st.catalog)
	if err != nil {
		st.log.Error("resolver: re-evaluation failed", zap.Error(err))
		st.fail(stage, 0, "✗ error: "+err.Error())
		return nil, nil
	}
	best, ok := matcher.Best(cands)
	if !ok {
		st.fail(stage, 0, "✗ no candidates after re-evaluation")
		return nil, nil
	}
	if best.Confidence < r.cfg.MinConfidence {
		st.fail(stage, best.Confidence, fmt.Sprintf("✗ best %s at %.2f below %.2f after re-evaluation", best.Record.SKU, best.Confidence, r.cfg.MinConfidence))
		return nil, nil
	}

	best.Stage = stage
	best.Method = model.MethodWebReevaluation
	best.Reasoning = append(best.Reasoning, "re-evaluated with web research specifications")
	if resp.Summary != "" {
		best.Reasoning = append(best.Reasoning, resp.Summary)
	}
	note := fmt.Sprintf("✓ %s at %.2f after re-evaluation", best.Record.SKU, best.Confidence)
	if hit {
		note += " (cached)"
	}
	st.pass(stage, best.Confidence, note)
	return model.WebResearchOutcome{
		Best:       best,
		Research:   resp,
		Comparison: matcher.CompareSpecs(enriched.Specs, best.Record.Specs),
		CacheHit:   hit,
	}, nil
}

// stageError traces a failed external stage. Only context errors are
// returned; everything else skips the stage.
func (r *Resolver) stageError(ctx context.Context, st *run, stage model.Stage, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return eris.Wrap(ctxErr, "resolver: resolve")
	}
	switch {
	case errors.Is(err, cost.ErrBudgetExhausted):
		st.fail(stage, 0, "✗ skipped: budget exhausted")
	case errors.Is(err, resilience.ErrCircuitOpen):
		st.fail(stage, 0, "✗ skipped: circuit open")
	case errors.Is(err, escalation.ErrStageUnavailable):
		st.log.Warn("resolver: stage unavailable", zap.String("stage", string(stage)), zap.Error(err))
		st.fail(stage, 0, "✗ skipped: unavailable")
	default:
		st.log.Warn("resolver: stage error", zap.String("stage", string(stage)), zap.Error(err))
		st.fail(stage, 0, "✗ error: "+err.Error())
	}
	return nil
}

func (r *Resolver) cacheGet(ctx context.Context, key string, out any, log *zap.Logger) bool {
	if r.cache == nil {
		return false
	}
	hit, err := cache.GetJSON(ctx, r.cache, key, out)
	if err != nil {
		log.Warn("resolver: cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (r *Resolver) cachePut(ctx context.Context, key string, stage model.Stage, v any, log *zap.Logger) {
	if r.cache == nil {
		return
	}
	if err := cache.PutJSON(ctx, r.cache, key, stage, v); err != nil {
		log.Warn("resolver: cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func findSKU(records []model.CatalogRecord, sku string) (model.CatalogRecord, bool) {
	for _, rec := range records {
		if strings.EqualFold(strings.TrimSpace(rec.SKU), sku) {
			return rec, true
		}
	}
	return model.CatalogRecord{}, false
}

// topUncertain returns the n highest-confidence distinct candidates.
func topUncertain(cands []model.MatchCandidate, n int) []model.MatchCandidate {
	sorted := append([]model.MatchCandidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	seen := make(map[string]bool)
	var out []model.MatchCandidate
	for _, c := range sorted {
		key := strings.ToUpper(c.Record.SKU)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}
