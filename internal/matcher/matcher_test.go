package matcher

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crossref-cli/internal/model"
)

func testCatalog() []model.CatalogRecord {
	return []model.CatalogRecord{
		{SKU: "TUD100C936V2", Model: "TUD100C936V2", Brand: "Trane", Type: "furnace",
			Specs: model.Specs{AFUE: model.Float(80)}},
		{SKU: "GSX160361", Model: "GSX16036", Brand: "Goodman", Type: "air_conditioner",
			Specs: model.Specs{Tonnage: model.Float(3.0), SEER: model.Float(16.2)}},
		{SKU: "GSX140481", Model: "GSX14048", Brand: "Goodman", Type: "air_conditioner",
			Specs: model.Specs{Tonnage: model.Float(4.0), SEER: model.Float(14)}},
	}
}

func TestExact_SKU(t *testing.T) {
	comp := model.CompetitorRecord{SKU: "tud100c936v2", Company: "Allied"}

	got := Exact{}.Match(comp, testCatalog())

	require.Len(t, got, 1)
	assert.Equal(t, "TUD100C936V2", got[0].Record.SKU)
	assert.InDelta(t, 0.95, got[0].Confidence, 1e-9)
	assert.Equal(t, model.MethodSKUExact, got[0].Method)
	assert.Equal(t, model.StageExact, got[0].Stage)
}

func TestExact_Model(t *testing.T) {
	comp := model.CompetitorRecord{SKU: "COMP-1", Model: "gsx16036"}

	got := Exact{}.Match(comp, testCatalog())

	require.Len(t, got, 1)
	assert.Equal(t, "GSX160361", got[0].Record.SKU)
	assert.InDelta(t, 0.85, got[0].Confidence, 1e-9)
	assert.Equal(t, model.MethodModelExact, got[0].Method)
}

func TestExact_NoMatchOnEmpty(t *testing.T) {
	got := Exact{}.Match(model.CompetitorRecord{}, []model.CatalogRecord{{SKU: "", Model: ""}})
	assert.Empty(t, got)
}

func TestExact_SnapshotIsCopy(t *testing.T) {
	catalog := testCatalog()
	got := Exact{}.Match(model.CompetitorRecord{SKU: "TUD100C936V2"}, catalog)
	require.Len(t, got, 1)

	*got[0].Record.Specs.AFUE = 1
	assert.InDelta(t, 80.0, *catalog[0].Specs.AFUE, 1e-9)
}

func TestFuzzy_WeightedSignals(t *testing.T) {
	comp := model.CompetitorRecord{SKU: "TUD100C936V1", Company: "Trane"}

	got := Fuzzy{}.Match(comp, testCatalog())

	require.NotEmpty(t, got)
	best := got[0]
	assert.Equal(t, "TUD100C936V2", best.Record.SKU)
	sim := 1 - 1.0/12.0
	assert.InDelta(t, 0.4*sim+0.3*sim+0.1, best.Confidence, 1e-9)
	assert.LessOrEqual(t, best.Confidence, 0.85)
	assert.Equal(t, model.MethodFuzzySimilarity, best.Method)
	assert.Len(t, best.Reasoning, 3)
}

func TestFuzzy_LowSimilarityExcluded(t *testing.T) {
	comp := model.CompetitorRecord{SKU: "ABCDEFGHIJ", Company: "Trane"}
	catalog := []model.CatalogRecord{{SKU: "ABCDEFXXXX", Model: "ZZZ", Brand: "Trane"}}

	assert.Empty(t, Fuzzy{}.Match(comp, catalog))
}

func TestFuzzy_BrandAloneIsNotACandidate(t *testing.T) {
	comp := model.CompetitorRecord{SKU: "QQQ", Company: "Goodman"}
	assert.Empty(t, Fuzzy{}.Match(comp, testCatalog()))
}

func TestSpecification_Scenario(t *testing.T) {
	comp := model.CompetitorRecord{
		SKU:     "XR16-036",
		Company: "Lennox",
		Specs:   model.Specs{Tonnage: model.Float(3.0), SEER: model.Float(16.0)},
	}

	got := Specification{}.Match(comp, testCatalog())

	require.Len(t, got, 1)
	assert.Equal(t, "GSX160361", got[0].Record.SKU)
	assert.InDelta(t, 0.75, got[0].Confidence, 1e-9)
	assert.Equal(t, model.MethodSpecTolerance, got[0].Method)
	assert.Contains(t, got[0].Reasoning[0], "2 of 2")
}

func TestSpecification_RequiresTwoMatches(t *testing.T) {
	tests := []struct {
		name  string
		specs model.Specs
	}{
		{"single field", model.Specs{Tonnage: model.Float(3.0)}},
		{"two compared one matched", model.Specs{Tonnage: model.Float(3.0), SEER: model.Float(20)}},
		{"no specs", model.Specs{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := model.CompetitorRecord{SKU: "X", Specs: tt.specs}
			assert.Empty(t, Specification{}.Match(comp, testCatalog()))
		})
	}
}

func TestSpecification_PartialMatchConfidence(t *testing.T) {
	comp := model.CompetitorRecord{Specs: model.Specs{
		Tonnage: model.Float(3.0), SEER: model.Float(16), EER: model.Float(13),
	}}
	catalog := []model.CatalogRecord{{SKU: "A", Specs: model.Specs{
		Tonnage: model.Float(3.0), SEER: model.Float(16), EER: model.Float(9),
	}}}

	got := Specification{}.Match(comp, catalog)

	require.Len(t, got, 1)
	assert.InDelta(t, 2.0/3.0*0.7+0.1, got[0].Confidence, 1e-9)
}

func TestSpecification_TypeMismatchSkipped(t *testing.T) {
	comp := model.CompetitorRecord{Specs: model.Specs{
		Tonnage: model.Float(3.0), SEER: model.Float(16), Type: "heat_pump",
	}}
	assert.Empty(t, Specification{}.Match(comp, testCatalog()))
}

func TestSpecification_AFUETolerance(t *testing.T) {
	cmp := CompareSpecs(
		model.Specs{AFUE: model.Float(96), Tonnage: model.Float(3)},
		model.Specs{AFUE: model.Float(90), Tonnage: model.Float(3)},
	)
	assert.Equal(t, 2, cmp.Compared)
	assert.Equal(t, 1, cmp.Matched)
	assert.False(t, cmp.Fields[1].Matched)
	assert.Equal(t, "afue", cmp.Fields[1].Field)
}

func TestTopN_SortsAndTruncates(t *testing.T) {
	var cands []model.MatchCandidate
	for i := 0; i < 8; i++ {
		cands = append(cands, model.MatchCandidate{
			Record:     model.CatalogRecord{SKU: fmt.Sprintf("SKU-%d", i)},
			Confidence: float64(i%4) / 10,
		})
	}

	got := topN(cands, MaxCandidates)

	require.Len(t, got, 5)
	assert.InDelta(t, 0.3, got[0].Confidence, 1e-9)
	assert.Equal(t, "SKU-3", got[0].Record.SKU)
	assert.Equal(t, "SKU-7", got[1].Record.SKU)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
	}
}

func TestDefaultOrder(t *testing.T) {
	ms := Default()
	require.Len(t, ms, 3)
	assert.Equal(t, model.StageExact, ms[0].Stage())
	assert.Equal(t, model.StageFuzzy, ms[1].Stage())
	assert.Equal(t, model.StageSpecification, ms[2].Stage())
}
