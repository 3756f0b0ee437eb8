package model

import "time"

// Flag is a qualitative marker attached to a normalized result.
type Flag string

const (
	FlagHighConfidence   Flag = "high_confidence"
	FlagMediumConfidence Flag = "medium_confidence"
	FlagLowConfidence    Flag = "low_confidence"
	FlagNeedsReview      Flag = "needs_review"
	FlagAIGenerated      Flag = "ai_generated"
	FlagWebVerified      Flag = "web_verified"
	FlagCacheHit         Flag = "cache_hit"
	FlagPriceMismatch    Flag = "price_mismatch"
	FlagIncompleteSpecs  Flag = "incomplete_specs"
)

// MatchSnapshot is a copy of the matched catalog record taken at
// normalization time.
type MatchSnapshot struct {
	SKU   string   `json:"sku"`
	Model string   `json:"model,omitempty"`
	Brand string   `json:"brand,omitempty"`
	Type  string   `json:"type,omitempty"`
	Price *float64 `json:"price,omitempty"`
	Specs Specs    `json:"specs"`
}

// NormalizedResult is the canonical, read-only output of a resolution.
type NormalizedResult struct {
	RequestID    string           `json:"request_id"`
	Timestamp    time.Time        `json:"timestamp"`
	Competitor   CompetitorRecord `json:"competitor"`
	Match        *MatchSnapshot   `json:"match,omitempty"`
	Stage        Stage            `json:"stage"`
	Method       Method           `json:"method"`
	Confidence   float64          `json:"confidence"`
	Reasoning    []string         `json:"reasoning"`
	QualityScore float64          `json:"quality_score"`
	Flags        []Flag           `json:"flags"`
	Warnings     []string         `json:"warnings"`
	IsValid      bool             `json:"is_valid"`
	Trace        []TraceEntry     `json:"trace,omitempty"`
	CostUSD      float64          `json:"cost_usd,omitempty"`
}

// HasFlag reports whether the result carries f.
func (r *NormalizedResult) HasFlag(f Flag) bool {
	for _, have := range r.Flags {
		if have == f {
			return true
		}
	}
	return false
}
