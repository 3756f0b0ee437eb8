package matcher

import (
	"fmt"
	"math"

	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/similarity"
)

const (
	fuzzyModelWeight   = 0.4
	fuzzySKUWeight     = 0.3
	fuzzyBrandBonus    = 0.1
	fuzzyMinSimilarity = 0.7
	fuzzyMaxConfidence = 0.85
)

// Fuzzy scores catalog records by edit-distance similarity of SKU, model and
// brand. A signal whose similarity falls below 0.7 contributes nothing, and
// a brand match alone never produces a candidate.
type Fuzzy struct{}

func (Fuzzy) Stage() model.Stage { return model.StageFuzzy }

func (Fuzzy) Match(c model.CompetitorRecord, catalog []model.CatalogRecord) []model.MatchCandidate {
	compModel := c.Model
	if compModel == "" {
		compModel = c.SKU
	}

	var out []model.MatchCandidate
	for _, rec := range catalog {
		var (
			score     float64
			reasoning []string
			signals   int
		)

		if sim := similarity.Ratio(compModel, rec.Model); sim >= fuzzyMinSimilarity {
			score += fuzzyModelWeight * sim
			signals++
			reasoning = append(reasoning, fmt.Sprintf("model similarity %.2f", sim))
		}
		if sim := similarity.Ratio(c.SKU, rec.SKU); sim >= fuzzyMinSimilarity {
			score += fuzzySKUWeight * sim
			signals++
			reasoning = append(reasoning, fmt.Sprintf("SKU similarity %.2f", sim))
		}
		if signals == 0 {
			continue
		}
		if sim := similarity.Ratio(c.Company, rec.Brand); sim >= fuzzyMinSimilarity {
			score += fuzzyBrandBonus
			reasoning = append(reasoning, fmt.Sprintf("brand %q matches company %q", rec.Brand, c.Company))
		}

		out = append(out, model.MatchCandidate{
			Record:     rec.Clone(),
			Confidence: math.Min(score, fuzzyMaxConfidence),
			Stage:      model.StageFuzzy,
			Method:     model.MethodFuzzySimilarity,
			Reasoning:  reasoning,
		})
	}
	return topN(out, MaxCandidates)
}
