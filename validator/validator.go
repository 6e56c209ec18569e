package validator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

const (
	DefaultMaxRecommendations = 5
	DefaultMaxFollowUps       = 3

	UnknownProductName   = "Unknown Product"
	DefaultReasoning     = "Recommended based on your preferences"
	DefaultSummary       = "Product recommendations based on your query"
	EmptyResultReasoning = "Fallback recommendation."
	FallbackReasoning    = "Fallback recommendation due to processing error"
	FallbackSummary      = "Unable to process request fully. Here's a general recommendation."
)

// FallbackFollowUps are returned when every attempt failed.
var FallbackFollowUps = []string{
	"Would you like to see more options?",
	"Do you have a specific budget in mind?",
	"Are there any particular features you're looking for?",
}

var (
	ErrNoObject = errors.New("no JSON object in model output")

	// greedy: first '{' through last '}'
	objectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
)

// Generator produces one raw model reply.
type Generator func(ctx context.Context) (string, error)

// Report describes how a result was obtained.
type Report struct {
	Attempts int
	// Fallback is true when every attempt failed and the hard-coded result was used.
	Fallback bool
	Errors   []string
}

// Validator turns raw model output into a well-formed schema.Result.
type Validator struct {
	MaxRetries         int
	MaxRecommendations int
	MaxFollowUps       int
}

func New(maxRetries int) *Validator {
	return &Validator{
		MaxRetries:         maxRetries,
		MaxRecommendations: DefaultMaxRecommendations,
		MaxFollowUps:       DefaultMaxFollowUps,
	}
}

// ValidateAndRetry calls generate up to maxRetries+1 times until a reply
// parses, and returns the hard-coded fallback if none does. It never fails.
func ValidateAndRetry(ctx context.Context, generate Generator, catalog []schema.Product, maxRetries int) schema.Result {
	res, _ := New(maxRetries).Run(ctx, generate, catalog)
	return res
}

// Run is ValidateAndRetry with a report of the attempts made.
func (v *Validator) Run(ctx context.Context, generate Generator, catalog []schema.Product) (schema.Result, Report) {
	var rep Report
	maxRetries := v.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			rep.Errors = append(rep.Errors, err.Error())
			logger.Warnf("validator: context done before attempt %d: %v", attempt+1, err)
			break
		}
		rep.Attempts++
		raw, err := safeGenerate(ctx, generate)
		if err != nil {
			rep.Errors = append(rep.Errors, err.Error())
			logger.Warnf("validator: generate failed (attempt %d/%d): %v", attempt+1, maxRetries+1, err)
			continue
		}
		res, err := v.Parse(raw, catalog)
		if err != nil {
			rep.Errors = append(rep.Errors, err.Error())
			logger.Warnf("validator: unusable model output (attempt %d/%d): %v", attempt+1, maxRetries+1, err)
			continue
		}
		logger.Debugf("validator: parsed %d recommendations on attempt %d", len(res.Recommendations), attempt+1)
		return res, rep
	}
	rep.Fallback = true
	return Fallback(catalog), rep
}

func safeGenerate(ctx context.Context, generate Generator) (raw string, err error) {
	if generate == nil {
		return "", errors.New("no generator")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return generate(ctx)
}

// ExtractObject returns the greedy outermost {...} span of raw, or the whole
// trimmed text when there is none.
func ExtractObject(raw string) string {
	if m := objectPattern.FindString(raw); m != "" {
		return m
	}
	return strings.TrimSpace(raw)
}

// Parse validates one reply against catalog. An empty catalog disables id
// checking. It fails only when the reply holds no JSON object.
func (v *Validator) Parse(raw string, catalog []schema.Product) (schema.Result, error) {
	candidate := ExtractObject(raw)
	if !gjson.Valid(candidate) {
		return schema.Result{}, ErrNoObject
	}
	doc := gjson.Parse(candidate)
	if !doc.IsObject() {
		return schema.Result{}, ErrNoObject
	}

	maxRecs := v.MaxRecommendations
	if maxRecs <= 0 {
		maxRecs = DefaultMaxRecommendations
	}
	maxFollow := v.MaxFollowUps
	if maxFollow <= 0 {
		maxFollow = DefaultMaxFollowUps
	}

	byID := make(map[string]schema.Product, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}

	res := schema.Result{
		Recommendations:   []schema.Recommendation{},
		FollowUpQuestions: []string{},
	}

	if recs := doc.Get("recommendations"); recs.IsArray() {
		entries := recs.Array()
		if len(entries) > maxRecs {
			entries = entries[:maxRecs]
		}
		for _, e := range entries {
			if !e.IsObject() {
				continue
			}
			id := text(e.Get("product_id"))
			if id == "" {
				continue
			}
			product, known := byID[id]
			if len(catalog) > 0 && !known {
				logger.Debugf("validator: dropping unknown product id %q", id)
				continue
			}
			name := text(e.Get("product_name"))
			if name == "" && known {
				name = strings.TrimSpace(product.Name)
			}
			if name == "" {
				name = UnknownProductName
			}
			reasoning := text(e.Get("reasoning"))
			if reasoning == "" {
				reasoning = DefaultReasoning
			}
			res.Recommendations = append(res.Recommendations, schema.Recommendation{
				ProductID:   id,
				ProductName: name,
				Reasoning:   reasoning,
			})
		}
	}
	if len(res.Recommendations) == 0 && len(catalog) > 0 {
		res.Recommendations = []schema.Recommendation{fallbackRecommendation(catalog[0], EmptyResultReasoning)}
	}

	if fu := doc.Get("follow_up_questions"); fu.IsArray() {
		for _, q := range fu.Array() {
			if len(res.FollowUpQuestions) == maxFollow {
				break
			}
			if q.Type == gjson.Null {
				continue
			}
			if s := strings.TrimSpace(q.String()); s != "" {
				res.FollowUpQuestions = append(res.FollowUpQuestions, s)
			}
		}
	}

	if s := doc.Get("summary"); s.Type == gjson.String && strings.TrimSpace(s.Str) != "" {
		res.Summary = s.Str
	} else {
		res.Summary = DefaultSummary
	}
	return res, nil
}

// text reads scalar values as trimmed strings; numbers keep their JSON form
// so {"product_id": 12} matches id "12". Objects, arrays and null read as "".
func text(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		return r.String()
	}
	return ""
}

// Fallback is the result used when no attempt produced a usable reply.
func Fallback(catalog []schema.Product) schema.Result {
	res := schema.Result{
		Recommendations:   []schema.Recommendation{},
		Summary:           FallbackSummary,
		FollowUpQuestions: append([]string(nil), FallbackFollowUps...),
	}
	if len(catalog) > 0 {
		res.Recommendations = append(res.Recommendations, fallbackRecommendation(catalog[0], FallbackReasoning))
	}
	return res
}

func fallbackRecommendation(p schema.Product, reasoning string) schema.Recommendation {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = UnknownProductName
	}
	return schema.Recommendation{ProductID: p.ID, ProductName: name, Reasoning: reasoning}
}
