package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/textutil"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/metrics"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

// LoadProducts reads a JSON array of products.
func LoadProducts(path string) ([]schema.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read products %s: %w", path, err)
	}
	var products []schema.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("decode products %s: %w", path, err)
	}
	return products, nil
}

// FileRetriever serves a static product list loaded at startup. Products
// are filtered with the predicate and ranked by how many query tokens they
// mention; ties keep file order.
type FileRetriever struct {
	path     string
	products []schema.Product
	tokens   [][]string
}

func NewFileRetriever(path string) (*FileRetriever, error) {
	products, err := LoadProducts(path)
	if err != nil {
		return nil, err
	}
	return NewStaticRetriever(path, products), nil
}

// NewStaticRetriever serves products from memory.
func NewStaticRetriever(name string, products []schema.Product) *FileRetriever {
	r := &FileRetriever{path: name, products: products, tokens: make([][]string, len(products))}
	for i, p := range products {
		r.tokens[i] = textutil.Tokenize(productText(p))
	}
	return r
}

func (r *FileRetriever) Type() string { return TYPE_FILE }

func (r *FileRetriever) Path() string { return r.path }

// Products returns a copy of the loaded list.
func (r *FileRetriever) Products() []schema.Product {
	out := make([]schema.Product, len(r.products))
	copy(out, r.products)
	return out
}

func (r *FileRetriever) Search(ctx context.Context, query string, expr *filters.Expr, limit int) ([]schema.Product, error) {
	start := time.Now()
	limit = normalizeLimit(limit)
	queryTokens := textutil.Tokenize(query)

	type hit struct {
		p     schema.Product
		score int
	}
	hits := make([]hit, 0, len(r.products))
	for i, p := range r.products {
		if !expr.Matches(p) {
			continue
		}
		hits = append(hits, hit{p: p, score: overlap(queryTokens, r.tokens[i])})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]schema.Product, len(hits))
	for i, h := range hits {
		out[i] = h.p
		out[i].Score = float64(h.score)
	}
	metrics.ObserveRetriever(TYPE_FILE, start, len(out))
	return out, nil
}

func productText(p schema.Product) string {
	return strings.Join(append([]string{p.Name, p.Brand, p.Category, p.Description}, p.Features...), " ")
}

func overlap(query, doc []string) int {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(doc))
	for _, t := range doc {
		set[t] = struct{}{}
	}
	n := 0
	seen := make(map[string]struct{}, len(query))
	for _, t := range query {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}
