// Package cost prices external escalation calls and enforces per-job
// spending budgets.
package cost

import "strings"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PerplexityRate holds Perplexity pricing.
type PerplexityRate struct {
	PerQuery     float64 `yaml:"per_query" mapstructure:"per_query"`
	PerMTokInput float64 `yaml:"per_mtok_input" mapstructure:"per_mtok_input"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Missing providers
// fall back to DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	def := DefaultRates()
	if len(rates.Anthropic) == 0 {
		rates.Anthropic = def.Anthropic
	}
	if rates.Perplexity.PerQuery == 0 && rates.Perplexity.PerMTokInput == 0 {
		rates.Perplexity = def.Perplexity
	}
	return &Calculator{rates: rates}
}

// rate finds pricing for model. A dated model ID falls back to the longest
// configured key it starts with, so "claude-haiku-4-5-20251001" is priced as
// "claude-haiku-4-5".
func (c *Calculator) rate(model string) (ModelRate, bool) {
	if r, ok := c.rates.Anthropic[model]; ok {
		return r, true
	}
	var best string
	for k := range c.rates.Anthropic {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates.Anthropic[best], true
}

// Claude prices one Claude message. Unknown models cost nothing.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rate(model)
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Perplexity computes the cost of one Perplexity query.
func (c *Calculator) Perplexity(promptTokens int) float64 {
	return c.rates.Perplexity.PerQuery + (float64(promptTokens)/1e6)*c.rates.Perplexity.PerMTokInput
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5":  {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-4-5": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-opus-4-1":   {Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		Perplexity: PerplexityRate{PerQuery: 0.005, PerMTokInput: 1.0},
	}
}
