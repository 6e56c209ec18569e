package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/cache"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/httpx"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

const (
	TYPE_FILE    = "file"
	TYPE_CATALOG = "catalog"
	TYPE_MILVUS  = "milvus"

	DefaultTopK = 10
)

// Retriever returns candidate products for a query. expr may be nil.
type Retriever interface {
	Type() string
	Search(ctx context.Context, query string, expr *filters.Expr, limit int) ([]schema.Product, error)
}

// Indexer is implemented by backends that can store products.
type Indexer interface {
	Index(ctx context.Context, products []schema.Product) error
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}

// Deps carries the shared clients a backend may need.
type Deps struct {
	HTTP     *httpx.Client
	Embedder llm.Embedder
}

// NewFromConfig assembles the retrieval chain described by cfg: one backend
// per catalog entry, each wrapped with its file fallback, fused with RRF when
// there are several, then the optional relax-on-empty and L1 cache layers.
func NewFromConfig(ctx context.Context, cfg *config.Config, deps Deps) (Retriever, error) {
	if len(cfg.Catalog.Retrievers) == 0 {
		return nil, errors.New("retriever: no backends configured")
	}
	if deps.HTTP == nil {
		deps.HTTP = httpx.NewFromConfig(&cfg.HTTP)
	}

	backends := make([]Retriever, 0, len(cfg.Catalog.Retrievers))
	for i, rc := range cfg.Catalog.Retrievers {
		r, err := newBackend(ctx, cfg, rc, deps)
		if err != nil {
			closeAll(backends)
			return nil, fmt.Errorf("retriever %d (%s): %w", i, rc.Type, err)
		}
		if rc.FallbackPath != "" {
			fb, err := NewFileRetriever(rc.FallbackPath)
			if err != nil {
				closeAll(append(backends, r))
				return nil, fmt.Errorf("retriever %d fallback: %w", i, err)
			}
			r = NewFallbackRetriever(r, fb)
		}
		backends = append(backends, r)
	}

	var r Retriever = backends[0]
	if len(backends) > 1 {
		r = NewFusedRetriever(backends, cfg.Catalog.RRFK)
	}
	if cfg.Catalog.RelaxOnEmpty {
		r = NewRelaxOnEmpty(r)
	}
	if l1 := cfg.Cache.L1; l1 != nil && l1.Enable {
		ttl := time.Duration(l1.TTLSeconds) * time.Second
		r = NewCachedRetriever(r, cache.NewLRU[[]schema.Product](l1.MaxEntries, ttl), ttl)
	}
	logger.Infof("retriever: using %s", Describe(r))
	return r, nil
}

func newBackend(ctx context.Context, cfg *config.Config, rc config.RetrieverConfig, deps Deps) (Retriever, error) {
	switch strings.ToLower(rc.Type) {
	case TYPE_FILE:
		return NewFileRetriever(rc.Path)
	case TYPE_CATALOG:
		return NewCatalogRetriever(rc.Endpoint, rc.Categories, deps.HTTP), nil
	case TYPE_MILVUS:
		embedder := deps.Embedder
		if embedder == nil {
			e, err := llm.NewOpenAIEmbedder(cfg.Embedding, deps.HTTP.HTTPClient())
			if err != nil {
				return nil, err
			}
			embedder = e
		}
		return NewMilvusRetriever(ctx, cfg.VectorDB, embedder)
	default:
		return nil, fmt.Errorf("unknown retriever type %q", rc.Type)
	}
}

// Describe renders the retrieval chain for logs, e.g. "cached(fused(file,catalog))".
func Describe(r Retriever) string {
	switch t := r.(type) {
	case *CachedRetriever:
		return "cached(" + Describe(t.inner) + ")"
	case *RelaxOnEmpty:
		return "relax(" + Describe(t.inner) + ")"
	case *FallbackRetriever:
		return Describe(t.Primary) + "|" + Describe(t.Fallback)
	case *FusedRetriever:
		parts := make([]string, 0, len(t.retrievers))
		for _, inner := range t.retrievers {
			parts = append(parts, Describe(inner))
		}
		return "fused(" + strings.Join(parts, ",") + ")"
	default:
		return r.Type()
	}
}

// Close releases every backend in the chain that holds a connection.
func Close(r Retriever) error {
	var errs []error
	walk(r, func(inner Retriever) {
		if c, ok := inner.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// FindIndexer returns the first backend in the chain that can index products.
func FindIndexer(r Retriever) (Indexer, bool) {
	var found Indexer
	walk(r, func(inner Retriever) {
		if found != nil {
			return
		}
		if idx, ok := inner.(Indexer); ok {
			found = idx
		}
	})
	return found, found != nil
}

func walk(r Retriever, fn func(Retriever)) {
	switch t := r.(type) {
	case *CachedRetriever:
		walk(t.inner, fn)
	case *RelaxOnEmpty:
		walk(t.inner, fn)
	case *FallbackRetriever:
		walk(t.Primary, fn)
		walk(t.Fallback, fn)
	case *FusedRetriever:
		for _, inner := range t.retrievers {
			walk(inner, fn)
		}
	case nil:
	default:
		fn(r)
	}
}

func closeAll(rs []Retriever) {
	for _, r := range rs {
		if err := Close(r); err != nil {
			logger.Warnf("retriever: close: %v", err)
		}
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultTopK
	}
	return limit
}
