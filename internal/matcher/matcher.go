// Package matcher implements the deterministic resolution stages: exact,
// fuzzy and specification matching. Matchers are pure functions of the
// competitor record and the catalog slice they are given.
package matcher

import (
	"sort"

	"github.com/sells-group/crossref-cli/internal/model"
)

// MaxCandidates is the number of candidates a matcher returns at most.
const MaxCandidates = 5

// Matcher is a deterministic stage matcher.
type Matcher interface {
	Stage() model.Stage
	Match(competitor model.CompetitorRecord, catalog []model.CatalogRecord) []model.MatchCandidate
}

// Func adapts a plain function to Matcher.
type Func struct {
	S  model.Stage
	Fn func(model.CompetitorRecord, []model.CatalogRecord) []model.MatchCandidate
}

func (f Func) Stage() model.Stage { return f.S }

func (f Func) Match(c model.CompetitorRecord, catalog []model.CatalogRecord) []model.MatchCandidate {
	return f.Fn(c, catalog)
}

// Default returns the deterministic matchers in pipeline order.
func Default() []Matcher {
	return []Matcher{Exact{}, Fuzzy{}, Specification{}}
}

// topN sorts candidates by descending confidence (ties broken by catalog SKU
// so output is deterministic) and keeps the first n.
func topN(cands []model.MatchCandidate, n int) []model.MatchCandidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		return cands[i].Record.SKU < cands[j].Record.SKU
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

// Best returns the highest-confidence candidate, if any. Candidates are
// assumed to be sorted as returned by a Matcher.
func Best(cands []model.MatchCandidate) (model.MatchCandidate, bool) {
	if len(cands) == 0 {
		return model.MatchCandidate{}, false
	}
	return cands[0], true
}
