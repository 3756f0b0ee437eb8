package normalize

import "github.com/sells-group/crossref-cli/internal/validate"

// resultSchemaDoc is the canonical shape of a NormalizedResult.
const resultSchemaDoc = `{
	"type": "object",
	"required": ["request_id", "timestamp", "competitor", "stage", "method", "confidence",
		"reasoning", "quality_score", "flags", "warnings", "is_valid"],
	"properties": {
		"request_id": {"type": "string", "minLength": 1},
		"timestamp": {"type": "string", "minLength": 1},
		"competitor": {
			"type": "object",
			"required": ["sku"],
			"properties": {
				"sku": {"type": "string", "minLength": 1},
				"price": {"type": "number", "minimum": 0}
			}
		},
		"match": {
			"type": "object",
			"required": ["sku", "specs"],
			"properties": {
				"sku": {"type": "string", "minLength": 1},
				"price": {"type": "number", "minimum": 0},
				"specs": {"type": "object"}
			}
		},
		"stage": {"enum": ["exact", "fuzzy", "specification", "ai_enhanced", "web_research", "failed"]},
		"method": {"enum": ["sku_exact", "model_exact", "fuzzy_similarity", "spec_tolerance",
			"ai_analysis", "web_spec_reevaluation", "none"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "array", "items": {"type": "string"}},
		"quality_score": {"type": "number", "minimum": 0, "maximum": 1},
		"flags": {
			"type": "array",
			"uniqueItems": true,
			"items": {"enum": ["high_confidence", "medium_confidence", "low_confidence", "needs_review",
				"ai_generated", "web_verified", "cache_hit", "price_mismatch", "incomplete_specs"]}
		},
		"warnings": {"type": "array", "items": {"type": "string"}},
		"is_valid": {"type": "boolean"}
	}
}`

var resultSchema = validate.MustCompile("normalized_result.json", resultSchemaDoc)
