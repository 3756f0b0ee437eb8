package model

// FieldComparison is the result of comparing one specification field.
type FieldComparison struct {
	Field      string  `json:"field"`
	Competitor string  `json:"competitor"`
	Catalog    string  `json:"catalog"`
	Diff       float64 `json:"diff"`
	Matched    bool    `json:"matched"`
}

// SpecComparison summarizes a field-by-field specification comparison.
type SpecComparison struct {
	Compared int               `json:"compared"`
	Matched  int               `json:"matched"`
	Fields   []FieldComparison `json:"fields,omitempty"`
}

// AIResponse is the structured payload the AI matcher must return.
type AIResponse struct {
	MatchFound bool     `json:"match_found"`
	MatchedSKU string   `json:"matched_sku"`
	Confidence float64  `json:"confidence"`
	Reasoning  []string `json:"reasoning"`
}

// WebResearchResponse is the structured payload of a web research call.
type WebResearchResponse struct {
	EnhancedSpecs     *Specs `json:"enhanced_specs,omitempty"`
	NeedsManualReview bool   `json:"needs_manual_review"`
	Source            string `json:"source"`
	Summary           string `json:"summary,omitempty"`
}

// Outcome is the typed result of a resolution. Exactly one of the concrete
// outcome types below implements it per terminal stage.
type Outcome interface {
	Stage() Stage
	outcome()
}

// ExactOutcome is produced when the exact matcher clears the threshold.
type ExactOutcome struct {
	Best         MatchCandidate
	Alternatives []MatchCandidate
}

// FuzzyOutcome is produced when the fuzzy matcher clears the threshold.
type FuzzyOutcome struct {
	Best         MatchCandidate
	Alternatives []MatchCandidate
}

// SpecificationOutcome is produced when the specification matcher clears the
// threshold.
type SpecificationOutcome struct {
	Best         MatchCandidate
	Alternatives []MatchCandidate
	Comparison   SpecComparison
}

// AIOutcome is produced when the AI matcher proposes an accepted match.
type AIOutcome struct {
	Best     MatchCandidate
	Response AIResponse
	CacheHit bool
}

// WebResearchOutcome is produced when enriched specs from web research lead
// to an accepted specification re-evaluation.
type WebResearchOutcome struct {
	Best       MatchCandidate
	Research   WebResearchResponse
	Comparison SpecComparison
	CacheHit   bool
}

// FailedOutcome is produced when no stage clears the threshold.
type FailedOutcome struct {
	Reason            string
	NeedsManualReview bool
	Research          *WebResearchResponse
}

func (ExactOutcome) Stage() Stage         { return StageExact }
func (FuzzyOutcome) Stage() Stage         { return StageFuzzy }
func (SpecificationOutcome) Stage() Stage { return StageSpecification }
func (AIOutcome) Stage() Stage            { return StageAIEnhanced }
func (WebResearchOutcome) Stage() Stage   { return StageWebResearch }
func (FailedOutcome) Stage() Stage        { return StageFailed }

func (ExactOutcome) outcome()         {}
func (FuzzyOutcome) outcome()         {}
func (SpecificationOutcome) outcome() {}
func (AIOutcome) outcome()            {}
func (WebResearchOutcome) outcome()   {}
func (FailedOutcome) outcome()        {}
