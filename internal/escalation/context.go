package escalation

import (
	"sort"

	"github.com/sells-group/crossref-cli/internal/matcher"
	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/similarity"
)

// DefaultContextSize bounds the catalog records sent with an AI call.
const DefaultContextSize = 20

type scored struct {
	rec   model.CatalogRecord
	score float64
}

// SelectContext picks the n catalog records most relevant to c by a cheap
// relevance score: best identifier similarity, shared description tokens,
// brand agreement and specification agreement. Ties break on SKU so the
// result, and any cache key derived from it, is deterministic.
func SelectContext(c model.CompetitorRecord, catalog []model.CatalogRecord, n int) []model.CatalogRecord {
	if n <= 0 {
		n = DefaultContextSize
	}

	compTokens := similarity.Tokens(c.SKU + " " + c.Model + " " + c.Description)
	all := make([]scored, 0, len(catalog))
	for _, rec := range catalog {
		all = append(all, scored{rec: rec, score: relevance(c, compTokens, rec)})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].rec.SKU < all[j].rec.SKU
	})

	if len(all) > n {
		all = all[:n]
	}
	out := make([]model.CatalogRecord, len(all))
	for i, s := range all {
		out[i] = s.rec.Clone()
	}
	return out
}

func relevance(c model.CompetitorRecord, compTokens map[string]bool, rec model.CatalogRecord) float64 {
	ident := 0.0
	for _, a := range []string{c.SKU, c.Model} {
		for _, b := range []string{rec.SKU, rec.Model} {
			if r := similarity.Ratio(a, b); r > ident {
				ident = r
			}
		}
	}

	overlap := 0.0
	recTokens := similarity.Tokens(rec.SKU + " " + rec.Model + " " + rec.Brand + " " + rec.ProductType())
	if len(compTokens) > 0 && len(recTokens) > 0 {
		shared := 0
		for t := range compTokens {
			if recTokens[t] {
				shared++
			}
		}
		overlap = float64(shared) / float64(len(compTokens))
	}

	brand := 0.0
	if similarity.EqualFold(c.Company, rec.Brand) {
		brand = 1
	}

	spec := 0.0
	if cmp := matcher.CompareSpecs(c.Specs, rec.Specs); cmp.Compared > 0 {
		spec = float64(cmp.Matched) / float64(cmp.Compared)
	}

	return 0.4*ident + 0.1*overlap + 0.1*brand + 0.4*spec
}
