// Package normalize converts every stage outcome into the canonical
// NormalizedResult, computing flags, a quality score and warnings, and
// validating the record against the result schema.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/similarity"
	"github.com/sells-group/crossref-cli/internal/validate"
)

// Confidence band lower bounds.
const (
	HighConfidence   = 0.9
	MediumConfidence = 0.7
	LowConfidence    = 0.5
)

// Quality score adjustments per flag.
const (
	bonusHighConfidence = 0.05
	penaltyNeedsReview  = 0.10
	bonusCompleteSpecs  = 0.02
	penaltyIncomplete   = 0.05
	penaltyPrice        = 0.20
	bonusWebVerified    = 0.05
)

const (
	// DefaultPriceMismatchRatio is the relative price gap that flags a match.
	DefaultPriceMismatchRatio = 0.3
	completeSpecsFraction     = 0.5
	tonnageWarnRatio          = 0.10
	seerWarnRatio             = 0.15
)

// Options configures a Normalizer.
type Options struct {
	PriceMismatchRatio float64
}

// Meta carries resolution context that is not part of the stage outcome.
type Meta struct {
	Trace   []model.TraceEntry
	CostUSD float64
}

// Normalizer builds NormalizedResults. Safe for concurrent use.
type Normalizer struct {
	opts    Options
	schema  *validate.Schema
	nowFunc func() time.Time
	newID   func() string
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	if opts.PriceMismatchRatio <= 0 {
		opts.PriceMismatchRatio = DefaultPriceMismatchRatio
	}
	return &Normalizer{
		opts:    opts,
		schema:  resultSchema,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// draft is the stage-independent input of the shared builder.
type draft struct {
	best        *model.MatchCandidate
	stage       model.Stage
	method      model.Method
	confidence  float64
	reasoning   []string
	aiGenerated bool
	webVerified bool
	cacheHit    bool
	warnings    []string
}

// Normalize dispatches on the concrete outcome type.
func (n *Normalizer) Normalize(c model.CompetitorRecord, o model.Outcome, meta Meta) *model.NormalizedResult {
	switch v := o.(type) {
	case model.ExactOutcome:
		return n.NormalizeExact(c, v, meta)
	case model.FuzzyOutcome:
		return n.NormalizeFuzzy(c, v, meta)
	case model.SpecificationOutcome:
		return n.NormalizeSpecification(c, v, meta)
	case model.AIOutcome:
		return n.NormalizeAI(c, v, meta)
	case model.WebResearchOutcome:
		return n.NormalizeWebResearch(c, v, meta)
	case model.FailedOutcome:
		return n.NormalizeFailed(c, v, meta)
	default:
		return n.NormalizeFailed(c, model.FailedOutcome{Reason: fmt.Sprintf("unsupported outcome %T", o)}, meta)
	}
}

func (n *Normalizer) NormalizeExact(c model.CompetitorRecord, o model.ExactOutcome, meta Meta) *model.NormalizedResult {
	return n.build(c, fromCandidate(o.Best), meta)
}

func (n *Normalizer) NormalizeFuzzy(c model.CompetitorRecord, o model.FuzzyOutcome, meta Meta) *model.NormalizedResult {
	return n.build(c, fromCandidate(o.Best), meta)
}

func (n *Normalizer) NormalizeSpecification(c model.CompetitorRecord, o model.SpecificationOutcome, meta Meta) *model.NormalizedResult {
	return n.build(c, fromCandidate(o.Best), meta)
}

func (n *Normalizer) NormalizeAI(c model.CompetitorRecord, o model.AIOutcome, meta Meta) *model.NormalizedResult {
	d := fromCandidate(o.Best)
	d.stage = model.StageAIEnhanced
	d.aiGenerated = true
	d.cacheHit = o.CacheHit
	if len(d.reasoning) == 0 {
		d.reasoning = append([]string(nil), o.Response.Reasoning...)
	}
	return n.build(c, d, meta)
}

func (n *Normalizer) NormalizeWebResearch(c model.CompetitorRecord, o model.WebResearchOutcome, meta Meta) *model.NormalizedResult {
	d := fromCandidate(o.Best)
	d.stage = model.StageWebResearch
	d.webVerified = true
	d.cacheHit = o.CacheHit
	if o.Research.Source != "" {
		d.reasoning = append(d.reasoning, "source: "+o.Research.Source)
	}
	if o.Research.NeedsManualReview {
		d.warnings = append(d.warnings, "web research flagged this product for manual review")
	}
	return n.build(c, d, meta)
}

func (n *Normalizer) NormalizeFailed(c model.CompetitorRecord, o model.FailedOutcome, meta Meta) *model.NormalizedResult {
	d := draft{stage: model.StageFailed, method: model.MethodNone}
	if o.Reason != "" {
		d.reasoning = []string{o.Reason}
	}
	if o.NeedsManualReview || (o.Research != nil && o.Research.NeedsManualReview) {
		d.warnings = append(d.warnings, "manual review required")
	}
	return n.build(c, d, meta)
}

func fromCandidate(best model.MatchCandidate) draft {
	b := best
	return draft{
		best:       &b,
		stage:      best.Stage,
		method:     best.Method,
		confidence: best.Confidence,
		reasoning:  append([]string(nil), best.Reasoning...),
	}
}

// build is the single path every entry point goes through.
func (n *Normalizer) build(c model.CompetitorRecord, d draft, meta Meta) *model.NormalizedResult {
	res := &model.NormalizedResult{
		RequestID:  n.newID(),
		Timestamp:  n.nowFunc().UTC(),
		Competitor: c.Clone(),
		Stage:      d.stage,
		Method:     d.method,
		Confidence: similarity.Clamp(d.confidence, 0, 1),
		Reasoning:  nonNil(d.reasoning),
		Flags:      []model.Flag{},
		Warnings:   nonNil(d.warnings),
		Trace:      append([]model.TraceEntry(nil), meta.Trace...),
		CostUSD:    meta.CostUSD,
	}
	if d.best != nil {
		res.Match = snapshot(d.best.Record)
	}

	res.Flags = n.flags(res, d)
	res.QualityScore = quality(res)
	res.Warnings = append(res.Warnings, specWarnings(res)...)
	res.IsValid = true

	if errs := n.validate(res); len(errs) > 0 {
		for _, e := range errs {
			res.Warnings = append(res.Warnings, "validation: "+e)
		}
		res.IsValid = false
	}
	return res
}

func snapshot(rec model.CatalogRecord) *model.MatchSnapshot {
	rec = rec.Clone()
	return &model.MatchSnapshot{
		SKU:   rec.SKU,
		Model: rec.Model,
		Brand: rec.Brand,
		Type:  rec.ProductType(),
		Price: rec.Price,
		Specs: rec.Specs,
	}
}

func (n *Normalizer) flags(res *model.NormalizedResult, d draft) []model.Flag {
	flags := []model.Flag{band(res.Confidence)}
	if d.aiGenerated {
		flags = append(flags, model.FlagAIGenerated)
	}
	if d.webVerified {
		flags = append(flags, model.FlagWebVerified)
	}
	if d.cacheHit {
		flags = append(flags, model.FlagCacheHit)
	}
	if res.Match != nil {
		if priceMismatch(res.Competitor.Price, res.Match.Price, n.opts.PriceMismatchRatio) {
			flags = append(flags, model.FlagPriceMismatch)
		}
		if res.Match.Specs.Completeness() < completeSpecsFraction {
			flags = append(flags, model.FlagIncompleteSpecs)
		}
	}
	return flags
}

func band(conf float64) model.Flag {
	switch {
	case conf >= HighConfidence:
		return model.FlagHighConfidence
	case conf >= MediumConfidence:
		return model.FlagMediumConfidence
	case conf >= LowConfidence:
		return model.FlagLowConfidence
	default:
		return model.FlagNeedsReview
	}
}

func priceMismatch(competitor, ours *float64, ratio float64) bool {
	if competitor == nil || ours == nil || *competitor <= 0 {
		return false
	}
	return math.Abs(*ours-*competitor)/(*competitor) > ratio
}

func quality(res *model.NormalizedResult) float64 {
	q := res.Confidence
	if res.HasFlag(model.FlagHighConfidence) {
		q += bonusHighConfidence
	}
	if res.HasFlag(model.FlagNeedsReview) {
		q -= penaltyNeedsReview
	}
	if res.Match != nil {
		if res.HasFlag(model.FlagIncompleteSpecs) {
			q -= penaltyIncomplete
		} else {
			q += bonusCompleteSpecs
		}
	}
	if res.HasFlag(model.FlagPriceMismatch) {
		q -= penaltyPrice
	}
	if res.HasFlag(model.FlagWebVerified) {
		q += bonusWebVerified
	}
	return similarity.Clamp(q, 0, 1)
}

// specWarnings reports large specification gaps between the competitor and
// the match regardless of confidence.
func specWarnings(res *model.NormalizedResult) []string {
	if res.Match == nil {
		return nil
	}
	var out []string
	check := func(name string, comp, ours *float64, limit float64) {
		if comp == nil || ours == nil {
			return
		}
		diff := similarity.RelativeDiff(*comp, *ours)
		if diff > limit {
			out = append(out, fmt.Sprintf("%s differs by %s (competitor %s, match %s)",
				name, percent(diff), fmtNum(*comp), fmtNum(*ours)))
		}
	}
	check("tonnage", res.Competitor.Specs.Tonnage, res.Match.Specs.Tonnage, tonnageWarnRatio)
	check("seer", res.Competitor.Specs.SEER, res.Match.Specs.SEER, seerWarnRatio)
	return out
}

func (n *Normalizer) validate(res *model.NormalizedResult) []string {
	var errs []string
	if err := n.schema.Value(res); err != nil {
		errs = append(errs, validate.Messages(err)...)
	}
	switch {
	case !res.Stage.Valid():
		errs = append(errs, fmt.Sprintf("unknown stage %q", res.Stage))
	case !res.Stage.AllowsMethod(res.Method):
		errs = append(errs, fmt.Sprintf("method %q is not valid for stage %q", res.Method, res.Stage))
	}
	switch {
	case res.Stage == model.StageFailed && res.Match != nil:
		errs = append(errs, "failed result carries a match")
	case res.Stage == model.StageFailed && res.Confidence != 0:
		errs = append(errs, "failed result has non-zero confidence")
	case res.Stage != model.StageFailed && res.Match == nil:
		errs = append(errs, fmt.Sprintf("%s result has no match", res.Stage))
	}
	return errs
}

func nonNil(s []string) []string {
	if len(s) == 0 {
		return []string{}
	}
	return append([]string(nil), s...)
}

func percent(f float64) string {
	if math.IsInf(f, 1) {
		return "100%+"
	}
	return strconv.FormatFloat(f*100, 'f', 1, 64) + "%"
}

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
