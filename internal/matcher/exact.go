package matcher

import (
	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/similarity"
)

const (
	exactSKUConfidence   = 0.95
	exactModelConfidence = 0.85
)

// Exact matches on case-insensitive SKU equality, then model equality.
type Exact struct{}

func (Exact) Stage() model.Stage { return model.StageExact }

func (Exact) Match(c model.CompetitorRecord, catalog []model.CatalogRecord) []model.MatchCandidate {
	var out []model.MatchCandidate
	for _, rec := range catalog {
		switch {
		case similarity.EqualFold(c.SKU, rec.SKU):
			out = append(out, model.MatchCandidate{
				Record:     rec.Clone(),
				Confidence: exactSKUConfidence,
				Stage:      model.StageExact,
				Method:     model.MethodSKUExact,
				Reasoning:  []string{"SKU " + rec.SKU + " matches competitor SKU exactly"},
			})
		case similarity.EqualFold(c.Model, rec.Model):
			out = append(out, model.MatchCandidate{
				Record:     rec.Clone(),
				Confidence: exactModelConfidence,
				Stage:      model.StageExact,
				Method:     model.MethodModelExact,
				Reasoning:  []string{"model " + rec.Model + " matches competitor model exactly"},
			})
		}
	}
	return topN(out, MaxCandidates)
}
