package retriever

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/metrics"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

const DefaultRRFK = 60

// RRFScore computes Reciprocal Rank Fusion score across multiple ranked lists.
// Products are keyed by ID; the first occurrence supplies the product data.
// Ties keep first-seen order.
func RRFScore(lists [][]schema.Product, k int) []schema.Product {
	if k <= 0 {
		k = DefaultRRFK
	}
	type agg struct {
		p     schema.Product
		score float64
		order int
	}
	scores := map[string]*agg{}

	for _, list := range lists {
		for idx, item := range list {
			if item.ID == "" {
				continue
			}
			a, ok := scores[item.ID]
			if !ok {
				a = &agg{p: item, order: len(scores)}
				scores[item.ID] = a
			}
			// RRF: 1 / (k + rank)
			a.score += 1.0 / (float64(k) + float64(idx+1))
		}
	}

	aggs := make([]*agg, 0, len(scores))
	for _, a := range scores {
		aggs = append(aggs, a)
	}
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].score != aggs[j].score {
			return aggs[i].score > aggs[j].score
		}
		return aggs[i].order < aggs[j].order
	})
	out := make([]schema.Product, len(aggs))
	for i, a := range aggs {
		out[i] = a.p
		out[i].Score = a.score
	}
	return out
}

// FusedRetriever queries every backend concurrently and fuses the lists
// with RRF. It fails only when every backend fails.
type FusedRetriever struct {
	retrievers []Retriever
	k          int
}

func NewFusedRetriever(retrievers []Retriever, k int) *FusedRetriever {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &FusedRetriever{retrievers: retrievers, k: k}
}

func (f *FusedRetriever) Type() string { return "fused" }

func (f *FusedRetriever) Search(ctx context.Context, query string, expr *filters.Expr, limit int) ([]schema.Product, error) {
	limit = normalizeLimit(limit)
	lists := make([][]schema.Product, len(f.retrievers))
	errs := make([]error, len(f.retrievers))

	var wg sync.WaitGroup
	for i, r := range f.retrievers {
		wg.Add(1)
		go func(i int, r Retriever) {
			defer wg.Done()
			lists[i], errs[i] = r.Search(ctx, query, expr, limit)
			if errs[i] != nil {
				logger.Warnf("fusion: retriever %s failed: %v", r.Type(), errs[i])
			}
		}(i, r)
	}
	wg.Wait()

	var ok [][]schema.Product
	for i := range lists {
		if errs[i] == nil {
			ok = append(ok, lists[i])
		}
	}
	if len(ok) == 0 && len(f.retrievers) > 0 {
		return nil, errors.Join(errs...)
	}
	metrics.ObserveFusion(len(ok))

	out := RRFScore(ok, f.k)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
