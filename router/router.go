package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/textutil"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/memory"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/prompt"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/validator"
)

const (
	SourceLLM  = "llm"
	SourceRule = "rule"
)

var ErrInvalidIntent = errors.New("router: invalid intent output")

// Decision is the classified intent of one query.
type Decision struct {
	Intent     schema.Intent `json:"intent"`
	Confidence float64       `json:"confidence"`
	// Source is "llm" or "rule".
	Source string `json:"source"`
}

// Router classifies a query given the conversation so far.
type Router interface {
	Classify(ctx context.Context, query string, history []schema.Turn) (*Decision, error)
}

// NewRouter builds the router for mode ("llm", "rule" or "hybrid"). Without a
// provider every mode degrades to rule-based routing.
func NewRouter(mode string, provider llm.Provider, templates *prompt.Templates) Router {
	rule := NewRuleBasedRouter()
	if provider == nil {
		return rule
	}
	switch strings.ToLower(mode) {
	case "rule":
		return rule
	case "llm":
		return NewLLMRouter(provider, templates)
	default:
		return NewHybridRouter(NewLLMRouter(provider, templates), rule)
	}
}

// IntentSchema is the structured output schema for model classification.
var IntentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent": map[string]any{
			"type": "string",
			"enum": []string{
				string(schema.IntentSearch), string(schema.IntentRefine),
				string(schema.IntentClarify), string(schema.IntentChitchat),
			},
		},
		"confidence": map[string]any{"type": "number", "description": "Confidence between 0 and 1"},
	},
	"required":             []string{"intent", "confidence"},
	"additionalProperties": false,
}

const formatInstructions = `Respond with a single JSON object: {"intent": "SEARCH"|"REFINE"|"CLARIFY"|"CHITCHAT", "confidence": number between 0 and 1}`

// LLMRouter classifies with the model.
type LLMRouter struct {
	Provider  llm.Provider
	templates *prompt.Templates
}

func NewLLMRouter(provider llm.Provider, templates *prompt.Templates) *LLMRouter {
	if templates == nil {
		templates = prompt.DefaultTemplates()
	}
	return &LLMRouter{Provider: provider, templates: templates}
}

func (r *LLMRouter) Classify(ctx context.Context, query string, history []schema.Turn) (*Decision, error) {
	if r.Provider == nil {
		return nil, errors.New("router: no llm provider")
	}
	p := prompt.Render(r.templates.Intent, map[string]string{
		"query":                query,
		"conversation_history": prompt.FormatIntentHistory(history),
		"format_instructions":  formatInstructions,
	})
	raw, err := r.Provider.GenerateJSON(ctx, p, "intent", IntentSchema)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	decision, err := ParseDecision(raw)
	if err != nil {
		return nil, err
	}
	logger.Infof("router: llm decision intent=%s confidence=%.2f", decision.Intent, decision.Confidence)
	return decision, nil
}

// ParseDecision reads {intent, confidence} from model output. An intent
// outside the enumeration becomes SEARCH; a missing or non-numeric
// confidence is an error.
func ParseDecision(raw string) (*Decision, error) {
	obj := validator.ExtractObject(raw)
	if !gjson.Valid(obj) || !gjson.Parse(obj).IsObject() {
		return nil, ErrInvalidIntent
	}
	intentField := gjson.Get(obj, "intent")
	if intentField.Type != gjson.String {
		return nil, fmt.Errorf("%w: intent is %s", ErrInvalidIntent, intentField.Type)
	}
	intent, ok := schema.ParseIntent(intentField.Str)
	if !ok {
		logger.Warnf("router: unknown intent %q, using %s", intentField.Str, schema.IntentSearch)
	}

	var confidence float64
	confField := gjson.Get(obj, "confidence")
	switch confField.Type {
	case gjson.Number:
		confidence = confField.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(confField.Str), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: confidence %q", ErrInvalidIntent, confField.Str)
		}
		confidence = v
	default:
		return nil, fmt.Errorf("%w: confidence is %s", ErrInvalidIntent, confField.Type)
	}
	return &Decision{Intent: intent, Confidence: schema.ClampConfidence(confidence), Source: SourceLLM}, nil
}

var (
	greetingWords = []string{"hello", "hi", "hey", "thanks", "thank you"}
	clarifyWords  = []string{"what", "how", "why", "explain", "tell me"}
	refineWords   = []string{"also", "and", "but", "except", "not", "without"}
)

// RuleBasedRouter is the deterministic fallback classifier.
type RuleBasedRouter struct{}

func NewRuleBasedRouter() *RuleBasedRouter {
	return &RuleBasedRouter{}
}

func (r *RuleBasedRouter) Classify(ctx context.Context, query string, history []schema.Turn) (*Decision, error) {
	d := Heuristic(query, len(history) > 0)
	logger.Infof("router: rule-based decision intent=%s confidence=%.2f", d.Intent, d.Confidence)
	return d, nil
}

// Heuristic checks, in order: greeting or thanks, a question word together
// with a question mark, a refinement word when there is history, and
// otherwise SEARCH.
func Heuristic(query string, hasHistory bool) *Decision {
	tokens := textutil.Tokenize(query)
	switch {
	case textutil.ContainsAny(tokens, greetingWords...):
		return &Decision{Intent: schema.IntentChitchat, Confidence: 0.7, Source: SourceRule}
	case textutil.ContainsAny(tokens, clarifyWords...) && strings.Contains(query, "?"):
		return &Decision{Intent: schema.IntentClarify, Confidence: 0.6, Source: SourceRule}
	case hasHistory && textutil.ContainsAny(tokens, refineWords...):
		return &Decision{Intent: schema.IntentRefine, Confidence: 0.6, Source: SourceRule}
	default:
		return &Decision{Intent: schema.IntentSearch, Confidence: 0.5, Source: SourceRule}
	}
}

// HybridRouter uses the primary router and falls back on any error.
type HybridRouter struct {
	Primary  Router
	Fallback Router
}

func NewHybridRouter(primary, fallback Router) *HybridRouter {
	if fallback == nil {
		fallback = NewRuleBasedRouter()
	}
	return &HybridRouter{Primary: primary, Fallback: fallback}
}

func (r *HybridRouter) Classify(ctx context.Context, query string, history []schema.Turn) (*Decision, error) {
	if r.Primary != nil {
		decision, err := r.Primary.Classify(ctx, query, history)
		if err == nil && decision != nil {
			return decision, nil
		}
		logger.Warnf("router: primary router failed, using fallback: %v", err)
	}
	return r.Fallback.Classify(ctx, query, history)
}

// ApplyTransition updates the session filters for intent. SEARCH replaces
// them with extracted, REFINE merges extracted in, CLARIFY and CHITCHAT leave
// them alone. Rejected ids are never touched.
func ApplyTransition(intent schema.Intent, sc *memory.Context, extracted filters.FilterSet) {
	switch intent {
	case schema.IntentSearch:
		sc.ReplaceFilters(extracted)
	case schema.IntentRefine:
		sc.MergeFilters(extracted)
	}
}
