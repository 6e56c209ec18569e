package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/textutil"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/prompt"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/validator"
)

const (
	MODE_LLM    = "llm"
	MODE_RULE   = "rule"
	MODE_HYBRID = "hybrid"
)

// Extractor turns a query into the filters expressed in that query alone.
// Merging with the accumulated filters is the caller's job; existing is only
// context for the model.
type Extractor interface {
	Extract(ctx context.Context, query string, history []schema.Turn, existing filters.FilterSet) (filters.FilterSet, error)
}

// NewExtractor builds the extractor for mode. Without a provider every mode
// degrades to rule-based extraction.
func NewExtractor(mode string, provider llm.Provider, templates *prompt.Templates, lexicon *Lexicon) Extractor {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	rule := NewRuleBasedExtractor(lexicon)
	if provider == nil {
		return rule
	}
	switch strings.ToLower(mode) {
	case MODE_RULE:
		return rule
	case MODE_LLM:
		return NewLLMExtractor(provider, templates, lexicon)
	default:
		return NewHybridExtractor(NewLLMExtractor(provider, templates, lexicon), rule)
	}
}

// FilterSchema is the structured output schema for model extraction.
var FilterSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"price_min":     nullable("number", "Minimum price in USD"),
		"price_max":     nullable("number", "Maximum price in USD"),
		"brand_include": stringList("Brands the user wants"),
		"brand_exclude": stringList("Brands the user does not want"),
		"category":      nullable("string", "Product category"),
		"features":      stringList("Required features"),
		"rating_min":    nullable("number", "Minimum rating from 0 to 5"),
	},
	"required":             []string{"price_min", "price_max", "brand_include", "brand_exclude", "category", "features", "rating_min"},
	"additionalProperties": false,
}

func nullable(typ, desc string) map[string]any {
	return map[string]any{"type": []string{typ, "null"}, "description": desc}
}

func stringList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

const formatInstructions = `Respond with a single JSON object with exactly these keys:
{"price_min": number|null, "price_max": number|null, "brand_include": [string], "brand_exclude": [string], "category": string|null, "features": [string], "rating_min": number|null}`

// LLMExtractor asks the model for structured filters.
type LLMExtractor struct {
	Provider  llm.Provider
	templates *prompt.Templates
	lexicon   *Lexicon
}

func NewLLMExtractor(provider llm.Provider, templates *prompt.Templates, lexicon *Lexicon) *LLMExtractor {
	if templates == nil {
		templates = prompt.DefaultTemplates()
	}
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &LLMExtractor{Provider: provider, templates: templates, lexicon: lexicon}
}

func (e *LLMExtractor) Extract(ctx context.Context, query string, history []schema.Turn, existing filters.FilterSet) (filters.FilterSet, error) {
	if e.Provider == nil {
		return filters.FilterSet{}, errors.New("extract: no llm provider")
	}
	existingJSON, err := json.MarshalIndent(existing.ToMap(), "", "  ")
	if err != nil {
		return filters.FilterSet{}, fmt.Errorf("extract: encode existing filters: %w", err)
	}
	p := prompt.Render(e.templates.Extraction, map[string]string{
		"query":                query,
		"conversation_history": prompt.FormatExtractionHistory(history),
		"existing_filters":     string(existingJSON),
		"vague_terms":          e.lexicon.JSON(),
		"format_instructions":  formatInstructions,
	})

	raw, err := e.Provider.GenerateJSON(ctx, p, "filters", FilterSchema)
	if err != nil {
		return filters.FilterSet{}, fmt.Errorf("extract: %w", err)
	}
	fs, err := filters.ParseJSON([]byte(validator.ExtractObject(raw)))
	if err != nil {
		return filters.FilterSet{}, fmt.Errorf("extract: %w", err)
	}
	fs = e.lexicon.Apply(query, fs)
	logger.Debugf("extract: llm filters %s", fs)
	return fs, nil
}

var (
	pricePattern  = regexp.MustCompile(`\$?(\d+(?:\.\d+)?)`)
	ratingPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)[\s-]*(?:star|rating)`)
)

// RuleBasedExtractor reads prices and ratings with regular expressions and
// resolves vague terms through the lexicon. It never fails.
type RuleBasedExtractor struct {
	lexicon *Lexicon
}

func NewRuleBasedExtractor(lexicon *Lexicon) *RuleBasedExtractor {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &RuleBasedExtractor{lexicon: lexicon}
}

func (e *RuleBasedExtractor) Extract(ctx context.Context, query string, history []schema.Turn, existing filters.FilterSet) (filters.FilterSet, error) {
	fs := ParseRules(query)
	fs = e.lexicon.Apply(query, fs)
	logger.Debugf("extract: rule-based filters %s", fs)
	return fs, nil
}

// ParseRules applies the price and rating patterns to query.
//
// All prices with "under", "less than" or "below" give price_max = smallest;
// with "over", "more than" or "above" price_min = largest; a lone number
// otherwise is a price_max. Numbers that belong to a rating ("4 star") are
// not prices.
func ParseRules(query string) filters.FilterSet {
	var fs filters.FilterSet
	lower := strings.ToLower(query)
	tokens := textutil.Tokenize(lower)

	ratingSpans := ratingPattern.FindAllStringSubmatchIndex(lower, -1)
	if len(ratingSpans) > 0 {
		m := ratingSpans[0]
		if v, err := strconv.ParseFloat(lower[m[2]:m[3]], 64); err == nil {
			fs.RatingMin = filters.Float(v)
		}
	}

	var prices []float64
	for _, m := range pricePattern.FindAllStringSubmatchIndex(lower, -1) {
		if insideAny(m[2], m[3], ratingSpans) {
			continue
		}
		if v, err := strconv.ParseFloat(lower[m[2]:m[3]], 64); err == nil {
			prices = append(prices, v)
		}
	}
	if len(prices) == 0 {
		return fs
	}
	switch {
	case textutil.ContainsAny(tokens, "under", "less than", "below"):
		fs.PriceMax = filters.Float(minOf(prices))
	case textutil.ContainsAny(tokens, "over", "more than", "above"):
		fs.PriceMin = filters.Float(maxOf(prices))
	case len(prices) == 1:
		fs.PriceMax = filters.Float(prices[0])
	}
	return fs
}

func insideAny(start, end int, spans [][]int) bool {
	for _, s := range spans {
		if start >= s[0] && end <= s[1] {
			return true
		}
	}
	return false
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// HybridExtractor uses the primary extractor and falls back on any error.
type HybridExtractor struct {
	Primary  Extractor
	Fallback Extractor
}

func NewHybridExtractor(primary, fallback Extractor) *HybridExtractor {
	if fallback == nil {
		fallback = NewRuleBasedExtractor(nil)
	}
	return &HybridExtractor{Primary: primary, Fallback: fallback}
}

func (h *HybridExtractor) Extract(ctx context.Context, query string, history []schema.Turn, existing filters.FilterSet) (filters.FilterSet, error) {
	if h.Primary != nil {
		fs, err := h.Primary.Extract(ctx, query, history, existing)
		if err == nil {
			return fs, nil
		}
		logger.Warnf("extract: primary extractor failed, using fallback: %v", err)
	}
	return h.Fallback.Extract(ctx, query, history, existing)
}
