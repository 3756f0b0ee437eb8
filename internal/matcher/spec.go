package matcher

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/similarity"
)

const (
	specMinCompared   = 2
	specMinMatched    = 2
	specRatioWeight   = 0.7
	specBaseScore     = 0.1
	specMaxConfidence = 0.75
)

// numericField describes one tolerance-compared specification.
type numericField struct {
	name      string
	tolerance float64
	get       func(model.Specs) *float64
}

var numericFields = []numericField{
	{"tonnage", 0.10, func(s model.Specs) *float64 { return s.Tonnage }},
	{"seer", 0.10, func(s model.Specs) *float64 { return s.SEER }},
	{"seer2", 0.10, func(s model.Specs) *float64 { return s.SEER2 }},
	{"eer", 0.10, func(s model.Specs) *float64 { return s.EER }},
	{"afue", 0.05, func(s model.Specs) *float64 { return s.AFUE }},
	{"hspf", 0.10, func(s model.Specs) *float64 { return s.HSPF }},
}

// CompareSpecs compares every numeric field present on both sides, relative
// to the competitor value.
func CompareSpecs(competitor, catalog model.Specs) model.SpecComparison {
	var cmp model.SpecComparison
	for _, f := range numericFields {
		cv, kv := f.get(competitor), f.get(catalog)
		if cv == nil || kv == nil {
			continue
		}
		diff := similarity.RelativeDiff(*cv, *kv)
		matched := similarity.WithinTolerance(*cv, *kv, f.tolerance)
		cmp.Compared++
		if matched {
			cmp.Matched++
		}
		cmp.Fields = append(cmp.Fields, model.FieldComparison{
			Field:      f.name,
			Competitor: formatFloat(*cv),
			Catalog:    formatFloat(*kv),
			Diff:       diff,
			Matched:    matched,
		})
	}
	return cmp
}

// Specification matches on numeric specifications within per-field
// tolerances. It needs at least two compared and two matching fields.
type Specification struct{}

func (Specification) Stage() model.Stage { return model.StageSpecification }

func (Specification) Match(c model.CompetitorRecord, catalog []model.CatalogRecord) []model.MatchCandidate {
	if c.Specs.IsEmpty() {
		return nil
	}

	var out []model.MatchCandidate
	for _, rec := range catalog {
		if c.Specs.Type != "" && rec.ProductType() != "" && !similarity.EqualFold(c.Specs.Type, rec.ProductType()) {
			continue
		}

		cmp := CompareSpecs(c.Specs, rec.Specs)
		if cmp.Compared < specMinCompared || cmp.Matched < specMinMatched {
			continue
		}

		conf := float64(cmp.Matched)/float64(cmp.Compared)*specRatioWeight + specBaseScore
		reasoning := []string{fmt.Sprintf("%d of %d compared specifications within tolerance", cmp.Matched, cmp.Compared)}
		for _, fc := range cmp.Fields {
			mark := "✗"
			if fc.Matched {
				mark = "✓"
			}
			reasoning = append(reasoning, fmt.Sprintf("%s %s %s vs %s", mark, fc.Field, fc.Competitor, fc.Catalog))
		}

		out = append(out, model.MatchCandidate{
			Record:     rec.Clone(),
			Confidence: math.Min(conf, specMaxConfidence),
			Stage:      model.StageSpecification,
			Method:     model.MethodSpecTolerance,
			Reasoning:  reasoning,
		})
	}
	return topN(out, MaxCandidates)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
