package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/cache"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/metrics"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

// FallbackRetriever serves from Fallback when Primary fails.
type FallbackRetriever struct {
	Primary  Retriever
	Fallback Retriever
}

func NewFallbackRetriever(primary, fallback Retriever) *FallbackRetriever {
	return &FallbackRetriever{Primary: primary, Fallback: fallback}
}

func (f *FallbackRetriever) Type() string { return f.Primary.Type() }

func (f *FallbackRetriever) Search(ctx context.Context, query string, expr *filters.Expr, limit int) ([]schema.Product, error) {
	products, err := f.Primary.Search(ctx, query, expr, limit)
	if err == nil {
		return products, nil
	}
	logger.Warnf("retriever: %s failed, using %s fallback: %v", f.Primary.Type(), f.Fallback.Type(), err)
	metrics.IncFallback("retriever")
	return f.Fallback.Search(ctx, query, expr, limit)
}

// RelaxOnEmpty repeats a filtered search without the filter when it finds
// nothing.
type RelaxOnEmpty struct {
	inner Retriever
}

func NewRelaxOnEmpty(inner Retriever) *RelaxOnEmpty {
	return &RelaxOnEmpty{inner: inner}
}

func (r *RelaxOnEmpty) Type() string { return r.inner.Type() }

func (r *RelaxOnEmpty) Search(ctx context.Context, query string, expr *filters.Expr, limit int) ([]schema.Product, error) {
	products, err := r.inner.Search(ctx, query, expr, limit)
	if err != nil || len(products) > 0 || expr == nil {
		return products, err
	}
	logger.Infof("retriever: no results for %s, retrying without filters", expr)
	metrics.IncFallback("relax")
	return r.inner.Search(ctx, query, nil, limit)
}

// CachedRetriever memoizes successful results by query, filter and limit.
type CachedRetriever struct {
	inner Retriever
	cache cache.Cache[[]schema.Product]
	ttl   time.Duration
}

func NewCachedRetriever(inner Retriever, c cache.Cache[[]schema.Product], ttl time.Duration) *CachedRetriever {
	return &CachedRetriever{inner: inner, cache: c, ttl: ttl}
}

func (c *CachedRetriever) Type() string { return c.inner.Type() }

func (c *CachedRetriever) Search(ctx context.Context, query string, expr *filters.Expr, limit int) ([]schema.Product, error) {
	key := fmt.Sprintf("%s|%s|%d", query, expr, limit)
	if products, ok := c.cache.Get(key); ok {
		metrics.ObserveCache(true)
		return cloneProducts(products), nil
	}
	metrics.ObserveCache(false)

	products, err := c.inner.Search(ctx, query, expr, limit)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, cloneProducts(products), c.ttl)
	return products, nil
}

// Purge drops every cached result, e.g. after re-indexing.
func (c *CachedRetriever) Purge() {
	c.cache.Purge()
}

func cloneProducts(in []schema.Product) []schema.Product {
	if in == nil {
		return nil
	}
	out := make([]schema.Product, len(in))
	copy(out, in)
	return out
}
