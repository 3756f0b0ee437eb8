package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crossref-cli/internal/cost"
	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/resilience"
	"github.com/sells-group/crossref-cli/internal/validate"
	"github.com/sells-group/crossref-cli/pkg/anthropic"
)

const aiService = "anthropic"

const aiResponseSchemaDoc = `{
	"type": "object",
	"required": ["match_found", "confidence", "reasoning"],
	"properties": {
		"match_found": {"type": "boolean"},
		"matched_sku": {"type": ["string", "null"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "array", "items": {"type": "string"}}
	}
}`

var aiResponseSchema = validate.MustCompile("ai_response.json", aiResponseSchemaDoc)

const aiSystemPrompt = `You cross-reference HVAC equipment between manufacturers.
Given one competitor product and a list of candidate products from our catalog,
decide which catalog product is the closest functional equivalent.

Compare capacity (tonnage), efficiency ratings (SEER, SEER2, EER, AFUE, HSPF),
product type, refrigerant, voltage and phase. Model number families matter less
than specifications. Only pick a SKU that appears in the candidate list. If no
candidate is a reasonable equivalent, set match_found to false.

Respond with only a JSON object matching this schema:
` + aiResponseSchemaDoc

// AIConfig configures the AI matcher.
type AIConfig struct {
	Model     string
	MaxTokens int64
}

// AIResult is a parsed AI matcher reply and its cost.
type AIResult struct {
	Response model.AIResponse
	CostUSD  float64
}

// AIMatcher asks a Claude model to pick the best catalog equivalent.
type AIMatcher struct {
	client anthropic.Client
	cfg    AIConfig
	guard  *resilience.Guard
	calc   *cost.Calculator
}

// NewAIMatcher creates an AI matcher. A nil client yields a matcher that
// always reports ErrStageUnavailable.
func NewAIMatcher(client anthropic.Client, cfg AIConfig, guard *resilience.Guard, calc *cost.Calculator) *AIMatcher {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.Rates{})
	}
	return &AIMatcher{client: client, cfg: cfg, guard: guard, calc: calc}
}

// Available reports whether the matcher has a client.
func (m *AIMatcher) Available() bool {
	return m != nil && m.client != nil
}

// Match sends c and the catalog context to the model in one call.
func (m *AIMatcher) Match(ctx context.Context, c model.CompetitorRecord, catalogContext []model.CatalogRecord) (*AIResult, error) {
	if !m.Available() {
		return nil, ErrStageUnavailable
	}
	budget, err := reserve(ctx)
	if err != nil {
		return nil, err
	}

	prompt, err := buildAIPrompt(c, catalogContext)
	if err != nil {
		return nil, err
	}
	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       m.cfg.Model,
		MaxTokens:   m.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(aiSystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
		Prefill:     "{",
	}

	resp, err := resilience.Call(ctx, m.guard, aiService, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return m.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, unavailable(ctx, aiService, err)
	}

	u := resp.Usage
	usd := m.calc.Claude(m.cfg.Model, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
	budget.Charge(usd)
	u.LogCost(m.cfg.Model, "ai_match", usd)
	if resp.Truncated() {
		return &AIResult{CostUSD: usd}, eris.New("escalation: ai response hit the token limit")
	}

	parsed, err := parseAIResponse(resp.Text())
	if err != nil {
		zap.L().Warn("escalation: unusable ai response", zap.String("sku", c.SKU), zap.Error(err))
		return &AIResult{CostUSD: usd}, err
	}
	return &AIResult{Response: parsed, CostUSD: usd}, nil
}

func parseAIResponse(text string) (model.AIResponse, error) {
	var out model.AIResponse
	raw := []byte(cleanJSON(text))
	if err := aiResponseSchema.Bytes(raw); err != nil {
		return out, eris.Wrap(err, "escalation: ai response")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, eris.Wrap(err, "escalation: decode ai response")
	}
	out.MatchedSKU = strings.TrimSpace(out.MatchedSKU)
	return out, nil
}

type promptProduct struct {
	SKU         string      `json:"sku"`
	Company     string      `json:"company,omitempty"`
	Brand       string      `json:"brand,omitempty"`
	Model       string      `json:"model,omitempty"`
	Type        string      `json:"type,omitempty"`
	Description string      `json:"description,omitempty"`
	Specs       model.Specs `json:"specs"`
}

func buildAIPrompt(c model.CompetitorRecord, catalogContext []model.CatalogRecord) (string, error) {
	comp := promptProduct{
		SKU: c.SKU, Company: c.Company, Model: c.Model,
		Description: c.Description, Specs: c.Specs,
	}
	cands := make([]promptProduct, len(catalogContext))
	for i, rec := range catalogContext {
		cands[i] = promptProduct{
			SKU: rec.SKU, Brand: rec.Brand, Model: rec.Model,
			Type: rec.ProductType(), Specs: rec.Specs,
		}
	}

	compJSON, err := json.MarshalIndent(comp, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "escalation: marshal competitor")
	}
	candJSON, err := json.MarshalIndent(cands, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "escalation: marshal candidates")
	}
	return fmt.Sprintf("Competitor product:\n%s\n\nCatalog candidates (%d):\n%s", compJSON, len(cands), candJSON), nil
}
