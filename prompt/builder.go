package prompt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

const (
	summaryTurns     = 3
	agentPreviewLen  = 100
	noHistoryText    = "No previous conversation."
	noFiltersText    = "No specific filters."
	noProductsText   = "No products available."
	sectionSeparator = "\n==================================================\n"
)

// OutputFormat is appended to every recommendation prompt.
const OutputFormat = `
{
  "recommendations": [
    {
      "product_id": "string",
      "product_name": "string",
      "reasoning": "string"
    }
  ],
  "summary": "string",
  "follow_up_questions": ["string"]
}

Return JSON with:
- recommendations: array of product recommendations (max 5)
- Each recommendation must have:
  - product_id: must exist in the available products
  - product_name: the name of the product (from the available products)
  - reasoning: explanation for why this product is recommended
- summary: brief explanation of recommendations
- follow_up_questions: array of 2-3 suggested follow-up questions to help the user refine their search or learn more (e.g., "Would you like to see products under $50?", "Are you looking for wireless options?", "Do you need this for a specific use case?")
`

// Builder assembles the final recommendation prompt.
type Builder struct {
	templates *Templates
	budget    *TokenBudget
}

// NewBuilder returns a Builder. budget may be nil, in which case every
// product is rendered.
func NewBuilder(t *Templates, budget *TokenBudget) *Builder {
	if t == nil {
		t = DefaultTemplates()
	}
	return &Builder{templates: t, budget: budget}
}

func (b *Builder) Templates() *Templates {
	return b.templates
}

// Build renders the prompt for query. products are expected to be already
// scored and ordered; when a token budget is set the lowest ranked products
// are dropped until the prompt fits.
func (b *Builder) Build(query string, history []schema.Turn, fs filters.FilterSet, products []schema.Product) string {
	rendered := renderProducts(products)

	head := []string{
		b.templates.System,
		sectionSeparator,
		"CONVERSATION HISTORY:",
		FormatConversationSummary(history),
		sectionSeparator,
		"USER FILTERS:",
		FormatFilters(fs),
		sectionSeparator,
		"AVAILABLE PRODUCTS:",
	}
	tail := []string{
		sectionSeparator,
		"CURRENT USER QUERY:",
		query,
		sectionSeparator,
		"OUTPUT FORMAT:",
		OutputFormat,
	}

	if b.budget != nil && len(rendered) > 0 {
		reserved := b.budget.Count(strings.Join(head, "\n")) + b.budget.Count(strings.Join(tail, "\n"))
		rendered = b.budget.Fit(rendered, "\n\n", reserved)
	}

	productText := noProductsText
	if len(rendered) > 0 {
		productText = strings.Join(rendered, "\n\n")
	}

	parts := make([]string, 0, len(head)+len(tail)+1)
	parts = append(parts, head...)
	parts = append(parts, productText)
	parts = append(parts, tail...)
	return strings.Join(parts, "\n")
}

func renderProducts(products []schema.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			continue
		}
		out = append(out, string(data))
	}
	return out
}

// FormatConversationSummary renders the last three turns for the
// recommendation prompt. Agent replies are cut to their first 100 characters.
func FormatConversationSummary(history []schema.Turn) string {
	if len(history) == 0 {
		return noHistoryText
	}
	lines := make([]string, 0, summaryTurns*3)
	for i, turn := range lastTurns(history, summaryTurns) {
		lines = append(lines, fmt.Sprintf("Turn %d:", i+1))
		lines = append(lines, "  User: "+turn.User)
		if turn.Agent != "" {
			lines = append(lines, "  Agent: "+truncateRunes(turn.Agent, agentPreviewLen)+"...")
		}
	}
	return strings.Join(lines, "\n")
}

// FormatIntentHistory renders history for the intent classification prompt.
func FormatIntentHistory(history []schema.Turn) string {
	if len(history) == 0 {
		return noHistoryText
	}
	turns := lastTurns(history, summaryTurns)
	blocks := make([]string, 0, len(turns))
	for i, turn := range turns {
		blocks = append(blocks, fmt.Sprintf("Turn %d:\nUser: %s\nAgent: %s", i+1, turn.User, turn.Agent))
	}
	return strings.Join(blocks, "\n\n")
}

// FormatExtractionHistory renders the recent user messages for filter
// extraction.
func FormatExtractionHistory(history []schema.Turn) string {
	if len(history) == 0 {
		return noHistoryText
	}
	turns := lastTurns(history, summaryTurns)
	lines := make([]string, 0, len(turns))
	for i, turn := range turns {
		lines = append(lines, fmt.Sprintf("Turn %d: %s", i+1, turn.User))
	}
	return strings.Join(lines, "\n")
}

// FormatFilters renders the accumulated filters one per line.
func FormatFilters(fs filters.FilterSet) string {
	var lines []string
	if v, ok := positive(fs.PriceMin); ok {
		lines = append(lines, "- Minimum Price: $"+v)
	}
	if v, ok := positive(fs.PriceMax); ok {
		lines = append(lines, "- Maximum Price: $"+v)
	}
	if len(fs.BrandInclude) > 0 {
		lines = append(lines, "- Brands (include): "+strings.Join(fs.BrandInclude, ", "))
	}
	if len(fs.BrandExclude) > 0 {
		lines = append(lines, "- Brands (exclude): "+strings.Join(fs.BrandExclude, ", "))
	}
	if fs.Category != nil && *fs.Category != "" {
		lines = append(lines, "- Category: "+*fs.Category)
	}
	if len(fs.Features) > 0 {
		lines = append(lines, "- Features: "+strings.Join(fs.Features, ", "))
	}
	if v, ok := positive(fs.RatingMin); ok {
		lines = append(lines, "- Minimum Rating: "+v)
	}
	if len(lines) == 0 {
		return noFiltersText
	}
	return strings.Join(lines, "\n")
}

// zero values render as unset, matching how they score
func positive(v *float64) (string, bool) {
	if v == nil || *v == 0 {
		return "", false
	}
	return strconv.FormatFloat(*v, 'f', -1, 64), true
}

func lastTurns(history []schema.Turn, n int) []schema.Turn {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
