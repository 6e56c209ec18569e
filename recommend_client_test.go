package recommend

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/cache"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/orchestrator"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/retriever"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

var testCatalog = []schema.Product{
	{ID: "e1", Name: "Earbuds", Brand: "TechSound", Category: "electronics", Price: 40, Rating: 4.2, Features: []string{"wireless"}},
	{ID: "e2", Name: "Headphones", Brand: "AudioMax", Category: "electronics", Price: 120, Rating: 4.6},
	{ID: "l1", Name: "Laptop", Brand: "Zenith", Category: "laptops", Price: 450, Rating: 3.9},
}

// indexingRetriever records indexed products on top of a static catalog.
type indexingRetriever struct {
	*retriever.FileRetriever

	mu      sync.Mutex
	indexed []schema.Product
}

func (r *indexingRetriever) Index(ctx context.Context, products []schema.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, products...)
	return nil
}

func newTestClientWith(t *testing.T, r retriever.Retriever) *RecommendClient {
	t.Helper()
	cfg := config.Default()
	orch, err := orchestrator.New(cfg, nil, r)
	require.NoError(t, err)
	store := NewMemSessionStore(cfg.Session, cfg.Agent.MaxHistory)
	return newRecommendClient(cfg, store, orch, r)
}

func newTestClient(t *testing.T) *RecommendClient {
	return newTestClientWith(t, retriever.NewStaticRetriever("test", testCatalog))
}

func TestRecommendStartsAndContinuesSession(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	res, err := c.Recommend(ctx, "", "I want something cheap")
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "e1", res.Recommendations[0].ProductID)

	info, err := c.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, info.History, 1)
	assert.Equal(t, "I want something cheap", info.History[0].User)
	require.NotNil(t, info.Filters.PriceMax)
	assert.Equal(t, 50.0, *info.Filters.PriceMax)

	next, err := c.Recommend(ctx, res.SessionID, "  show me more  ")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, next.SessionID)

	info, err = c.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, info.History, 2)
	assert.Equal(t, "show me more", info.History[1].User)
}

func TestRecommendErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Recommend(ctx, "", "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = c.Recommend(ctx, "missing", "cheap earbuds")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = c.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecommendSerializesTurnsOfOneSession(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	res, err := c.Recommend(ctx, "", "headphones")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Recommend(ctx, res.SessionID, "something else")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	info, err := c.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, info.History, 9)
}

func TestRejectAndResetSession(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	res, err := c.Recommend(ctx, "", "I want something cheap")
	require.NoError(t, err)

	info, err := c.RejectProduct(ctx, res.SessionID, "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, info.RejectedIDs)

	_, err = c.RejectProduct(ctx, res.SessionID, " ")
	assert.Error(t, err)
	_, err = c.RejectProduct(ctx, "missing", "e1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	info, err = c.ResetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Empty(t, info.History)
	assert.Empty(t, info.RejectedIDs)
	assert.True(t, info.Filters.IsEmpty())

	_, err = c.ResetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListAndDeleteSessions(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	var ids []string
	for _, q := range []string{"earbuds", "laptop", "headphones"} {
		res, err := c.Recommend(ctx, "", q)
		require.NoError(t, err)
		ids = append(ids, res.SessionID)
	}

	all, err := c.ListSessions(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := c.ListSessions(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	deleted, err := c.DeleteSession(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.DeleteSession(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, deleted)

	all, err = c.ListSessions(ctx, 0, 500)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTranslateFilters(t *testing.T) {
	c := newTestClient(t)

	res := c.TranslateFilters(map[string]any{
		"price_max":     100,
		"category":      "Audio",
		"brand_exclude": []any{"Beats"},
	})
	require.NotNil(t, res.Filters.PriceMax)
	assert.Equal(t, 100.0, *res.Filters.PriceMax)
	assert.Equal(t, []string{"beats"}, res.Filters.BrandExclude)
	assert.Len(t, res.Predicates, 2)
	assert.Equal(t, `price <= 100 && category == "audio"`, res.Milvus)
	assert.NotNil(t, res.Where)

	empty := c.TranslateFilters(map[string]any{})
	assert.Empty(t, empty.Predicates)
	assert.NotNil(t, empty.Predicates)
	assert.Nil(t, empty.Where)
	assert.Equal(t, "", empty.Milvus)
}

func TestIndexProducts(t *testing.T) {
	ctx := context.Background()

	t.Run("backend without indexing", func(t *testing.T) {
		c := newTestClient(t)
		_, err := c.IndexProducts(ctx, []schema.Product{{ID: "x1", Name: "X"}})
		assert.ErrorContains(t, err, "does not support indexing")
	})

	t.Run("invalid input", func(t *testing.T) {
		c := newTestClient(t)
		_, err := c.IndexProducts(ctx, nil)
		assert.Error(t, err)
		_, err = c.IndexProducts(ctx, []schema.Product{{ID: "x1"}, {ID: " "}})
		assert.ErrorContains(t, err, "product 1 has no id")
	})

	t.Run("indexes and purges cache", func(t *testing.T) {
		inner := &indexingRetriever{FileRetriever: retriever.NewStaticRetriever("test", testCatalog)}
		lru := cache.NewLRU[[]schema.Product](8, 0)
		c := newTestClientWith(t, retriever.NewCachedRetriever(inner, lru, 0))

		_, err := c.Recommend(ctx, "", "earbuds")
		require.NoError(t, err)
		require.Equal(t, 1, lru.Len())

		n, err := c.IndexProducts(ctx, []schema.Product{{ID: "x1", Name: "X"}, {ID: "x2", Name: "Y"}})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Len(t, inner.indexed, 2)
		assert.Equal(t, 0, lru.Len())
	})
}

func TestNewRecommendClientRuleBased(t *testing.T) {
	ctx := context.Background()
	c, err := NewRecommendClient(ctx, config.Default())
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Recommend(ctx, "", "wireless earbuds under $50")
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	require.NotNil(t, res.Filters.PriceMax)
	assert.Equal(t, 50.0, *res.Filters.PriceMax)
	assert.Contains(t, []string{"prod_001", "prod_011", "prod_012"}, res.Recommendations[0].ProductID)
}
