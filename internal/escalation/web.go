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
	"github.com/sells-group/crossref-cli/pkg/perplexity"
)

const (
	webService     = "perplexity"
	extractService = "anthropic_extract"

	// MaxUncertain bounds the earlier-stage candidates passed to research.
	MaxUncertain = 3
)

const webResearchSchemaDoc = `{
	"type": "object",
	"required": ["needs_manual_review"],
	"properties": {
		"enhanced_specs": {
			"type": ["object", "null"],
			"properties": {
				"tonnage": {"type": "number", "exclusiveMinimum": 0},
				"seer": {"type": "number", "exclusiveMinimum": 0},
				"seer2": {"type": "number", "exclusiveMinimum": 0},
				"eer": {"type": "number", "exclusiveMinimum": 0},
				"afue": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
				"hspf": {"type": "number", "exclusiveMinimum": 0},
				"refrigerant": {"type": "string"},
				"voltage": {"type": "string"},
				"phase": {"type": "string"},
				"type": {"type": "string"}
			}
		},
		"needs_manual_review": {"type": "boolean"},
		"source": {"type": "string"},
		"summary": {"type": "string"}
	}
}`

var webResearchSchema = validate.MustCompile("web_research.json", webResearchSchemaDoc)

const researchPrompt = `Find the published specifications of the HVAC product %s.
%s
Look for manufacturer spec sheets, AHRI listings or distributor pages.%s

Respond with only a JSON object matching this schema:
%s

Use needs_manual_review=true when sources disagree or the product cannot be identified.
Set source to the URL you relied on most.`

const extractPrompt = `Extract HVAC product specifications from the following research notes.
Respond with only a JSON object matching this schema:
%s

If a specification cannot be determined, omit it. Set needs_manual_review to true
when the notes are ambiguous.

Research notes:
%s`

// WebConfig configures the web research stage.
type WebConfig struct {
	// ExtractModel is the Claude model used when the search reply is not
	// valid JSON.
	ExtractModel string
	// Domains restricts the search, when set.
	Domains []string
}

// WebResult is a parsed research reply, its citations and its cost.
type WebResult struct {
	Response  model.WebResearchResponse
	Citations []string
	CostUSD   float64
}

// WebResearcher looks up a competitor product's specifications on the web.
type WebResearcher struct {
	search  perplexity.Client
	extract anthropic.Client
	cfg     WebConfig
	guard   *resilience.Guard
	calc    *cost.Calculator
}

// NewWebResearcher creates a researcher. extract may be nil, in which case
// non-JSON search replies are errors.
func NewWebResearcher(search perplexity.Client, extract anthropic.Client, cfg WebConfig, guard *resilience.Guard, calc *cost.Calculator) *WebResearcher {
	if calc == nil {
		calc = cost.NewCalculator(cost.Rates{})
	}
	return &WebResearcher{search: search, extract: extract, cfg: cfg, guard: guard, calc: calc}
}

// Available reports whether the researcher has a search client.
func (w *WebResearcher) Available() bool {
	return w != nil && w.search != nil
}

// Research searches for c's specifications. uncertain lists the best
// earlier-stage candidates to help the search disambiguate.
func (w *WebResearcher) Research(ctx context.Context, c model.CompetitorRecord, uncertain []model.MatchCandidate) (*WebResult, error) {
	if !w.Available() {
		return nil, ErrStageUnavailable
	}
	log := zap.L().With(zap.String("sku", c.SKU), zap.String("stage", string(model.StageWebResearch)))

	budget, err := reserve(ctx)
	if err != nil {
		return nil, err
	}

	temp := 0.1
	req := perplexity.ChatCompletionRequest{
		Messages:           []perplexity.Message{{Role: "user", Content: buildResearchPrompt(c, uncertain)}},
		Temperature:        &temp,
		SearchDomainFilter: w.cfg.Domains,
	}
	resp, err := resilience.Call(ctx, w.guard, webService, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return w.search.ChatCompletion(ctx, req)
	})
	if err != nil {
		return nil, unavailable(ctx, webService, err)
	}

	result := &WebResult{
		Citations: resp.Citations,
		CostUSD:   w.calc.Perplexity(resp.Usage.PromptTokens),
	}
	budget.Charge(result.CostUSD)

	text := resp.Content()
	if strings.TrimSpace(text) == "" {
		return result, eris.New("escalation: empty research reply")
	}

	parsed, parseErr := parseWebResponse(text)
	if parseErr != nil {
		log.Debug("research reply is not structured, extracting", zap.Error(parseErr))
		extracted, usd, err := w.extractSpecs(ctx, text)
		result.CostUSD += usd
		if err != nil {
			return result, err
		}
		parsed = extracted
	}

	if parsed.Source == "" && len(resp.Citations) > 0 {
		parsed.Source = resp.Citations[0]
	}
	result.Response = parsed
	return result, nil
}

// extractSpecs turns free-text research into the structured reply with a
// Claude call.
func (w *WebResearcher) extractSpecs(ctx context.Context, notes string) (model.WebResearchResponse, float64, error) {
	if w.extract == nil {
		return model.WebResearchResponse{}, 0, eris.New("escalation: research reply is not json and no extractor is configured")
	}
	budget, err := reserve(ctx)
	if err != nil {
		return model.WebResearchResponse{}, 0, err
	}

	req := anthropic.MessageRequest{
		Model:     w.cfg.ExtractModel,
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(extractPrompt, webResearchSchemaDoc, notes)},
		},
	}
	resp, err := resilience.Call(ctx, w.guard, extractService, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return w.extract.CreateMessage(ctx, req)
	})
	if err != nil {
		return model.WebResearchResponse{}, 0, unavailable(ctx, extractService, err)
	}

	u := resp.Usage
	usd := w.calc.Claude(w.cfg.ExtractModel, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
	budget.Charge(usd)
	u.LogCost(w.cfg.ExtractModel, "web_extract", usd)

	parsed, err := parseWebResponse(resp.Text())
	if err != nil {
		return model.WebResearchResponse{}, usd, err
	}
	return parsed, usd, nil
}

func parseWebResponse(text string) (model.WebResearchResponse, error) {
	var out model.WebResearchResponse
	raw := []byte(cleanJSON(text))
	if err := webResearchSchema.Bytes(raw); err != nil {
		return out, eris.Wrap(err, "escalation: research response")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, eris.Wrap(err, "escalation: decode research response")
	}
	if out.EnhancedSpecs != nil && out.EnhancedSpecs.IsEmpty() {
		out.EnhancedSpecs = nil
	}
	return out, nil
}

func buildResearchPrompt(c model.CompetitorRecord, uncertain []model.MatchCandidate) string {
	product := strings.TrimSpace(c.Company + " " + c.SKU)
	if c.Model != "" && !strings.EqualFold(c.Model, c.SKU) {
		product += fmt.Sprintf(" (model %s)", c.Model)
	}

	var known string
	if c.Description != "" {
		known = "Listing description: " + c.Description + "\n"
	}

	var cands string
	if len(uncertain) > 0 {
		var b strings.Builder
		b.WriteString("\nIt may be comparable to these products; note which specifications would confirm or rule them out:")
		for i, u := range uncertain {
			if i == MaxUncertain {
				break
			}
			fmt.Fprintf(&b, "\n- %s %s (%s)", u.Record.Brand, u.Record.Model, u.Record.SKU)
		}
		cands = b.String()
	}
	return fmt.Sprintf(researchPrompt, product, known, cands, webResearchSchemaDoc)
}
