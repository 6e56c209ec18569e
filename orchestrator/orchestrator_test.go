package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/memory"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/retriever"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/validator"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	goleak.VerifyTestMain(m)
}

// scriptedProvider answers each kind of model call through its own func.
type scriptedProvider struct {
	mu          sync.Mutex
	intent      func(prompt string) (string, error)
	filters     func(prompt string) (string, error)
	completion  func(prompt string) (string, error)
	completions []string
}

func (p *scriptedProvider) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.completions = append(p.completions, prompt)
	p.mu.Unlock()
	return p.completion(prompt)
}

func (p *scriptedProvider) GenerateJSON(ctx context.Context, prompt string, name string, schema map[string]any) (string, error) {
	if name == "intent" {
		return p.intent(prompt)
	}
	return p.filters(prompt)
}

func (p *scriptedProvider) GetProviderType() string { return "scripted" }

func reply(s string, err error) func(string) (string, error) {
	return func(string) (string, error) { return s, err }
}

// failingProvider fails every call, forcing the rule-based paths.
func failingProvider() *scriptedProvider {
	boom := errors.New("model unavailable")
	return &scriptedProvider{intent: reply("", boom), filters: reply("", boom), completion: reply("", boom)}
}

type errRetriever struct{}

func (errRetriever) Type() string { return "broken" }

func (errRetriever) Search(ctx context.Context, query string, expr *filters.Expr, limit int) ([]schema.Product, error) {
	return nil, errors.New("connection refused")
}

var testCatalog = []schema.Product{
	{ID: "e1", Name: "Earbuds", Brand: "TechSound", Category: "electronics", Price: 40, Rating: 4.2, Features: []string{"wireless"}},
	{ID: "e2", Name: "Headphones", Brand: "AudioMax", Category: "electronics", Price: 120, Rating: 4.6, Features: []string{"wired"}},
	{ID: "l1", Name: "Laptop", Brand: "Zenith", Category: "laptops", Price: 450, Rating: 3.9},
}

func newOrchestrator(t *testing.T, provider *scriptedProvider, products []schema.Product) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.MaxRetries = 1
	var r retriever.Retriever = retriever.NewStaticRetriever("test", products)
	o, err := New(cfg, provider, r)
	require.NoError(t, err)
	return o
}

func TestNewRequiresRetriever(t *testing.T) {
	_, err := New(config.Default(), nil, nil)
	assert.Error(t, err)
}

func TestCheapQueryUsesLexiconWhenExtractionFails(t *testing.T) {
	o := newOrchestrator(t, failingProvider(), nil)
	sc := memory.NewContext(10)

	resp := o.Process(context.Background(), sc, "I want something cheap")

	require.NotNil(t, resp.Filters.PriceMax)
	assert.Equal(t, 50.0, *resp.Filters.PriceMax)
	assert.Equal(t, schema.IntentSearch, resp.Intent)
	assert.Equal(t, 0.5, resp.Confidence)
	assert.Empty(t, resp.Recommendations)
	assert.Equal(t, validator.FallbackSummary, resp.Summary)
	assert.Equal(t, validator.FallbackFollowUps, resp.FollowUpQuestions)
	assert.Len(t, sc.History(), 1)
}

func TestSearchThenRefineKeepsBothFilters(t *testing.T) {
	provider := &scriptedProvider{
		intent: func(p string) (string, error) {
			if strings.Contains(p, "under $50") {
				return `{"intent": "REFINE", "confidence": 0.9}`, nil
			}
			return `{"intent": "SEARCH", "confidence": 0.8}`, nil
		},
		filters: func(p string) (string, error) {
			if strings.Contains(p, "under $50") {
				return `{"price_max": 50}`, nil
			}
			return `{"category": "electronics"}`, nil
		},
		completion: reply(`{"recommendations": [{"product_id": "e1", "product_name": "Earbuds", "reasoning": "fits"}],
			"summary": "Earbuds it is", "follow_up_questions": ["Any colour?"]}`, nil),
	}
	o := newOrchestrator(t, provider, testCatalog)
	sc := memory.NewContext(10)
	ctx := context.Background()

	first := o.Process(ctx, sc, "show me electronics")
	assert.Equal(t, schema.IntentSearch, first.Intent)
	assert.Equal(t, 0.8, first.Confidence)
	require.NotNil(t, first.Filters.Category)
	assert.Equal(t, "electronics", *first.Filters.Category)
	assert.Nil(t, first.Filters.PriceMax)

	second := o.Process(ctx, sc, "but make it under $50")
	assert.Equal(t, schema.IntentRefine, second.Intent)
	require.NotNil(t, second.Filters.Category)
	assert.Equal(t, "electronics", *second.Filters.Category)
	require.NotNil(t, second.Filters.PriceMax)
	assert.Equal(t, 50.0, *second.Filters.PriceMax)

	require.Len(t, second.Recommendations, 1)
	assert.Equal(t, "e1", second.Recommendations[0].ProductID)
	assert.Equal(t, "Earbuds it is", second.Summary)
	assert.Equal(t, []string{"Any colour?"}, second.FollowUpQuestions)

	// the second prompt only offers what survives both filters
	require.Len(t, provider.completions, 2)
	assert.Contains(t, provider.completions[1], `"id": "e1"`)
	assert.NotContains(t, provider.completions[1], `"id": "e2"`)
	assert.Contains(t, provider.completions[1], "show me electronics")

	history := sc.History()
	require.Len(t, history, 2)
	assert.Equal(t, schema.Turn{User: "but make it under $50", Agent: "Earbuds it is"}, history[1])
}

func TestNoJSONReplyFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		products []schema.Product
		wantRecs int
	}{
		{name: "with catalog", products: testCatalog, wantRecs: 1},
		{name: "empty catalog", products: nil, wantRecs: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{
				intent:     reply("no json here", nil),
				filters:    reply("no json here", nil),
				completion: reply("no json here", nil),
			}
			o := newOrchestrator(t, provider, tt.products)

			resp := o.Process(context.Background(), memory.NewContext(10), "recommend something")

			assert.Len(t, provider.completions, 2, "max_retries=1 means two attempts")
			assert.Equal(t, validator.FallbackSummary, resp.Summary)
			assert.Equal(t, validator.FallbackFollowUps, resp.FollowUpQuestions)
			require.Len(t, resp.Recommendations, tt.wantRecs)
			if tt.wantRecs > 0 {
				assert.Equal(t, validator.FallbackReasoning, resp.Recommendations[0].Reasoning)
			}
		})
	}
}

func TestRejectedRecommendations(t *testing.T) {
	both := `{"recommendations": [
		{"product_id": "e1", "product_name": "Earbuds", "reasoning": "a"},
		{"product_id": "e2", "product_name": "Headphones", "reasoning": "b"}
	], "summary": "two picks", "follow_up_questions": []}`

	tests := []struct {
		name     string
		rejected []string
		want     []string
	}{
		{name: "rejected one is dropped", rejected: []string{"e1"}, want: []string{"e2"}},
		{name: "all rejected keeps the unfiltered list", rejected: []string{"e1", "e2"}, want: []string{"e1", "e2"}},
		{name: "nothing rejected", want: []string{"e1", "e2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{
				intent:     reply(`{"intent": "SEARCH", "confidence": 1}`, nil),
				filters:    reply(`{}`, nil),
				completion: reply(both, nil),
			}
			o := newOrchestrator(t, provider, testCatalog)
			sc := memory.NewContext(10)
			for _, id := range tt.rejected {
				sc.MarkRejected(id)
			}

			resp := o.Process(context.Background(), sc, "headphones please")

			got := make([]string, len(resp.Recommendations))
			for i, r := range resp.Recommendations {
				got[i] = r.ProductID
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchKeepsRejectedIDs(t *testing.T) {
	o := newOrchestrator(t, failingProvider(), testCatalog)
	sc := memory.NewContext(10)
	sc.MarkRejected("e2")
	sc.MergeFilters(filters.FilterSet{Category: filters.String("laptops")})

	resp := o.Process(context.Background(), sc, "show me something new")

	assert.Equal(t, schema.IntentSearch, resp.Intent)
	assert.Nil(t, resp.Filters.Category, "SEARCH replaces the accumulated filters")
	assert.Equal(t, []string{"e2"}, sc.RejectedIDs())
}

func TestBrandExcludeIsEnforcedLocally(t *testing.T) {
	provider := &scriptedProvider{
		intent:     reply(`{"intent": "SEARCH", "confidence": 0.9}`, nil),
		filters:    reply(`{"brand_exclude": ["techsound"]}`, nil),
		completion: reply("garbage", nil),
	}
	o := newOrchestrator(t, provider, testCatalog)

	o.Process(context.Background(), memory.NewContext(10), "no techsound please")

	require.NotEmpty(t, provider.completions)
	assert.NotContains(t, provider.completions[0], `"id": "e1"`)
	assert.Contains(t, provider.completions[0], `"id": "e2"`)
}

func TestRetrievalErrorMeansEmptyCatalog(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.MaxRetries = 0
	provider := &scriptedProvider{
		intent:  reply(`{"intent": "SEARCH", "confidence": 0.9}`, nil),
		filters: reply(`{}`, nil),
		completion: reply(`{"recommendations": [{"product_id": "anything", "product_name": "X", "reasoning": "r"}],
			"summary": "s", "follow_up_questions": []}`, nil),
	}
	o, err := New(cfg, provider, errRetriever{})
	require.NoError(t, err)

	resp := o.Process(context.Background(), memory.NewContext(10), "laptops")

	require.Len(t, provider.completions, 1)
	assert.Contains(t, provider.completions[0], "No products available.")
	// without a catalog ids are accepted as-is
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "anything", resp.Recommendations[0].ProductID)
}

func TestResetBehavesLikeFreshSession(t *testing.T) {
	provider := &scriptedProvider{
		intent:  reply(`{"intent": "SEARCH", "confidence": 0.9}`, nil),
		filters: reply(`{"category": "electronics"}`, nil),
		completion: reply(`{"recommendations": [{"product_id": "e1", "product_name": "Earbuds", "reasoning": "r"}],
			"summary": "done", "follow_up_questions": []}`, nil),
	}
	o := newOrchestrator(t, provider, testCatalog)
	sc := memory.NewContext(10)
	ctx := context.Background()

	o.Process(ctx, sc, "show me electronics")
	sc.MarkRejected("e2")
	sc.Reset()

	assert.Empty(t, sc.History())
	assert.True(t, sc.Filters().IsEmpty())
	assert.Empty(t, sc.RejectedIDs())

	o.Process(ctx, sc, "show me electronics")
	require.Len(t, provider.completions, 2)
	assert.Contains(t, provider.completions[1], "No previous conversation.")
	assert.Len(t, sc.History(), 1)
}

func TestNoProviderFallsBackToFirstCandidate(t *testing.T) {
	o, err := New(config.Default(), nil, retriever.NewStaticRetriever("test", testCatalog))
	require.NoError(t, err)

	resp := o.Process(context.Background(), memory.NewContext(10), "I want something cheap")

	require.NotNil(t, resp.Filters.PriceMax)
	assert.Equal(t, 50.0, *resp.Filters.PriceMax)
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "e1", resp.Recommendations[0].ProductID)
}
