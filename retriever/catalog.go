package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/httpx"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/metrics"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

// keywords looked up in product descriptions to enrich features
var featureKeywords = []string{
	"wireless", "bluetooth", "portable", "waterproof",
	"noise cancellation", "gaming", "smart", "led",
	"battery", "rechargeable",
}

// CatalogRetriever reads products from a DummyJSON-compatible HTTP API
// (GET {endpoint}/products/category/{name}). The API has no search, so the
// predicate minus its category constraint is applied locally and API order
// is kept.
type CatalogRetriever struct {
	Endpoint   string
	Categories []string
	Client     *httpx.Client
}

func NewCatalogRetriever(endpoint string, categories []string, client *httpx.Client) *CatalogRetriever {
	if client == nil {
		client = httpx.New(nil, httpx.Options{})
	}
	return &CatalogRetriever{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		Categories: categories,
		Client:     client,
	}
}

func (r *CatalogRetriever) Type() string { return TYPE_CATALOG }

type catalogResponse struct {
	Products []catalogProduct `json:"products"`
}

type catalogProduct struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	Brand       string      `json:"brand"`
	Price       float64     `json:"price"`
	Rating      float64     `json:"rating"`
	Description string      `json:"description"`
}

func (r *CatalogRetriever) Search(ctx context.Context, query string, expr *filters.Expr, limit int) ([]schema.Product, error) {
	start := time.Now()
	limit = normalizeLimit(limit)

	var (
		out  []schema.Product
		errs []error
	)
	// products carry the API sub-category (smartphones, laptops), so a
	// category predicate is left to local scoring instead of filtering here
	local := expr.Without("category")
	for _, category := range r.Categories {
		products, err := r.fetch(ctx, category)
		if err != nil {
			logger.Warnf("catalog: fetch category %s failed: %v", category, err)
			errs = append(errs, err)
			continue
		}
		for _, p := range products {
			if local.Matches(p) {
				out = append(out, p)
			}
		}
	}
	if len(errs) > 0 && len(errs) == len(r.Categories) {
		metrics.IncRetrieverError(TYPE_CATALOG)
		return nil, fmt.Errorf("catalog: %w", errors.Join(errs...))
	}
	if len(out) > limit {
		out = out[:limit]
	}
	metrics.ObserveRetriever(TYPE_CATALOG, start, len(out))
	return out, nil
}

func (r *CatalogRetriever) fetch(ctx context.Context, category string) ([]schema.Product, error) {
	target := fmt.Sprintf("%s/products/category/%s", r.Endpoint, url.PathEscape(category))
	var resp catalogResponse
	if err := r.Client.GetJSON(ctx, target, &resp); err != nil {
		return nil, err
	}
	out := make([]schema.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		out = append(out, normalizeCatalogProduct(p, category))
	}
	return out, nil
}

func normalizeCatalogProduct(p catalogProduct, category string) schema.Product {
	name := p.Title
	if name == "" {
		name = "Unknown Product"
	}
	brand := p.Brand
	if brand == "" {
		brand = "Unknown Brand"
	}
	return schema.Product{
		ID:          "dummy_" + p.ID.String(),
		Name:        name,
		Brand:       brand,
		Category:    category,
		Price:       p.Price,
		Rating:      p.Rating,
		Features:    catalogFeatures(p.Description, category),
		Description: p.Description,
	}
}

func catalogFeatures(description, category string) []string {
	features := []string{"electronics", category}
	lower := strings.ToLower(description)
	for _, kw := range featureKeywords {
		if strings.Contains(lower, kw) {
			features = append(features, kw)
		}
	}
	return features
}
