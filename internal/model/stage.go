package model

// Stage is one ordered step of the resolution pipeline.
type Stage string

const (
	StageExact         Stage = "exact"
	StageFuzzy         Stage = "fuzzy"
	StageSpecification Stage = "specification"
	StageAIEnhanced    Stage = "ai_enhanced"
	StageWebResearch   Stage = "web_research"
	StageFailed        Stage = "failed"
)

// Method names how a stage produced its match.
type Method string

const (
	MethodSKUExact        Method = "sku_exact"
	MethodModelExact      Method = "model_exact"
	MethodFuzzySimilarity Method = "fuzzy_similarity"
	MethodSpecTolerance   Method = "spec_tolerance"
	MethodAIAnalysis      Method = "ai_analysis"
	MethodWebReevaluation Method = "web_spec_reevaluation"
	MethodNone            Method = "none"
)

// stageMethods is the legal method domain of each stage.
var stageMethods = map[Stage][]Method{
	StageExact:         {MethodSKUExact, MethodModelExact},
	StageFuzzy:         {MethodFuzzySimilarity},
	StageSpecification: {MethodSpecTolerance},
	StageAIEnhanced:    {MethodAIAnalysis},
	StageWebResearch:   {MethodWebReevaluation},
	StageFailed:        {MethodNone},
}

// AllStages returns the stages in pipeline order, FAILED last.
func AllStages() []Stage {
	return []Stage{StageExact, StageFuzzy, StageSpecification, StageAIEnhanced, StageWebResearch, StageFailed}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageMethods[s]
	return ok
}

// AllowsMethod reports whether m is in the stage's method domain.
func (s Stage) AllowsMethod(m Method) bool {
	for _, allowed := range stageMethods[s] {
		if allowed == m {
			return true
		}
	}
	return false
}

// MatchCandidate is a catalog record proposed by a stage.
type MatchCandidate struct {
	Record     CatalogRecord `json:"record"`
	Confidence float64       `json:"confidence"`
	Stage      Stage         `json:"stage"`
	Method     Method        `json:"method"`
	Reasoning  []string      `json:"reasoning,omitempty"`
}

// TraceEntry records the decision taken at one stage.
type TraceEntry struct {
	Stage      Stage   `json:"stage"`
	Passed     bool    `json:"passed"`
	Confidence float64 `json:"confidence"`
	Note       string  `json:"note"`
}
