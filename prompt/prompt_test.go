package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

func init() {
	logger.UseNop()
}

func fptr(v float64) *float64 { return &v }
func sptr(v string) *string   { return &v }

func words(text string) int { return len(strings.Fields(text)) }

func TestLoadTemplatesDefaults(t *testing.T) {
	tpl, err := LoadTemplates("")
	require.NoError(t, err)
	assert.Contains(t, tpl.Intent, "{query}")
	assert.Contains(t, tpl.Intent, "{conversation_history}")
	assert.Contains(t, tpl.Intent, "{format_instructions}")
	assert.Contains(t, tpl.Extraction, "{existing_filters}")
	assert.Contains(t, tpl.Extraction, "{vague_terms}")
	assert.NotEmpty(t, tpl.System)
}

func TestLoadTemplatesOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SystemTemplateFile), []byte("custom system"), 0o644))

	tpl, err := LoadTemplates(dir)
	require.NoError(t, err)
	assert.Equal(t, "custom system", tpl.System)
	assert.Equal(t, DefaultTemplates().Intent, tpl.Intent, "missing files fall back to defaults")
}

func TestRender(t *testing.T) {
	out := Render(`Q={query} H={conversation_history} keep {"a": 1} {unknown}`, map[string]string{
		"query":                "cheap earbuds",
		"conversation_history": "",
	})
	assert.Equal(t, `Q=cheap earbuds H= keep {"a": 1} {unknown}`, out)
	assert.Equal(t, "x", Render("x", nil))
}

func TestBuildEmptySections(t *testing.T) {
	b := NewBuilder(&Templates{System: "SYSTEM"}, nil)
	out := b.Build("find headphones", nil, filters.FilterSet{}, nil)

	expected := strings.Join([]string{
		"SYSTEM",
		sectionSeparator,
		"CONVERSATION HISTORY:",
		"No previous conversation.",
		sectionSeparator,
		"USER FILTERS:",
		"No specific filters.",
		sectionSeparator,
		"AVAILABLE PRODUCTS:",
		"No products available.",
		sectionSeparator,
		"CURRENT USER QUERY:",
		"find headphones",
		sectionSeparator,
		"OUTPUT FORMAT:",
		OutputFormat,
	}, "\n")
	assert.Equal(t, expected, out)
	assert.Equal(t, 5, strings.Count(out, strings.Repeat("=", 50)))
}

func TestBuildRendersProductsAndFilters(t *testing.T) {
	b := NewBuilder(&Templates{System: "SYSTEM"}, nil)
	products := []schema.Product{
		{ID: "p1", Name: "Buds", Brand: "acme", Price: 49.5, Rating: 4.2, Features: []string{"wireless"}},
		{ID: "p2", Name: "Cans", Brand: "sony", Price: 120, Rating: 4.8},
	}
	fs := filters.FilterSet{
		PriceMax:     fptr(50),
		BrandExclude: []string{"beats"},
		Category:     sptr("headphones"),
		RatingMin:    fptr(4),
	}
	out := b.Build("q", nil, fs, products)

	assert.Contains(t, out, "- Maximum Price: $50\n- Brands (exclude): beats\n- Category: headphones\n- Minimum Rating: 4")
	assert.Contains(t, out, "{\n  \"id\": \"p1\",\n  \"name\": \"Buds\"")
	assert.Contains(t, out, "}\n\n{\n  \"id\": \"p2\"")
	assert.NotContains(t, out, "Score")
}

func TestFormatConversationSummary(t *testing.T) {
	long := strings.Repeat("x", 150)
	history := []schema.Turn{
		{User: "first", Agent: "a1"},
		{User: "second", Agent: long},
		{User: "third", Agent: ""},
		{User: "fourth", Agent: "a4"},
	}
	assert.Equal(t, strings.Join([]string{
		"Turn 1:",
		"  User: second",
		"  Agent: " + strings.Repeat("x", 100) + "...",
		"Turn 2:",
		"  User: third",
		"Turn 3:",
		"  User: fourth",
		"  Agent: a4...",
	}, "\n"), FormatConversationSummary(history))
}

func TestFormatHistoriesForClassifiers(t *testing.T) {
	history := []schema.Turn{{User: "u1", Agent: "a1"}, {User: "u2", Agent: "a2"}}
	assert.Equal(t, "Turn 1:\nUser: u1\nAgent: a1\n\nTurn 2:\nUser: u2\nAgent: a2", FormatIntentHistory(history))
	assert.Equal(t, "Turn 1: u1\nTurn 2: u2", FormatExtractionHistory(history))
	assert.Equal(t, "No previous conversation.", FormatIntentHistory(nil))
	assert.Equal(t, "No previous conversation.", FormatExtractionHistory(nil))
}

func TestTokenBudgetFit(t *testing.T) {
	b := NewTokenBudgetWithCounter(10, words)
	items := []string{"a b c", "d e f", "g h i", "j k l"}

	assert.Equal(t, items[:2], b.Fit(items, "\n\n", 3))
	assert.Equal(t, items[:1], b.Fit(items, "\n\n", 100), "first item is always kept")
	assert.Equal(t, items, NewTokenBudgetWithCounter(0, words).Fit(items, "\n\n", 100))
}

func TestBuildTrimsToBudget(t *testing.T) {
	products := []schema.Product{{ID: "p1", Name: "One"}, {ID: "p2", Name: "Two"}, {ID: "p3", Name: "Three"}}
	unbounded := NewBuilder(&Templates{System: "SYSTEM"}, nil).Build("q", nil, filters.FilterSet{}, products)
	budget := NewTokenBudgetWithCounter(words(unbounded)-10, words)

	out := NewBuilder(&Templates{System: "SYSTEM"}, budget).Build("q", nil, filters.FilterSet{}, products)
	assert.Contains(t, out, `"id": "p1"`)
	assert.NotContains(t, out, `"id": "p3"`)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens("  "))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcde"))
}
