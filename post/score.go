package post

import (
	"sort"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

// Score rates how well p satisfies fs. It starts at 1.0, drops to 0 on any
// hard violation (price bounds, brand include/exclude, minimum rating), halves
// on a category mismatch, and scales by feature overlap: 0.3 when nothing
// matches, otherwise 1 + 0.2 per matched feature.
func Score(p schema.Product, fs filters.FilterSet) float64 {
	score := 1.0

	if fs.PriceMin != nil && p.Price < *fs.PriceMin {
		return 0
	}
	if fs.PriceMax != nil && p.Price > *fs.PriceMax {
		return 0
	}

	brand := strings.ToLower(strings.TrimSpace(p.Brand))
	if len(fs.BrandInclude) > 0 && !containsFold(fs.BrandInclude, brand) {
		return 0
	}
	if len(fs.BrandExclude) > 0 && containsFold(fs.BrandExclude, brand) {
		return 0
	}

	if fs.Category != nil {
		want := strings.ToLower(strings.TrimSpace(*fs.Category))
		if want != "" && !strings.Contains(strings.ToLower(p.Category), want) {
			score *= 0.5
		}
	}

	if fs.RatingMin != nil && p.Rating < *fs.RatingMin {
		return 0
	}

	if len(fs.Features) > 0 {
		matches := featureMatches(p.Features, fs.Features)
		if matches == 0 {
			score *= 0.3
		} else {
			score *= 1.0 + float64(matches)*0.2
		}
	}
	return score
}

// a wanted feature matches when it is a substring of any product feature
func featureMatches(have, want []string) int {
	lowered := make([]string, len(have))
	for i, h := range have {
		lowered[i] = strings.ToLower(h)
	}
	n := 0
	for _, w := range want {
		w = strings.ToLower(w)
		for _, h := range lowered {
			if strings.Contains(h, w) {
				n++
				break
			}
		}
	}
	return n
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

// Rank scores every product, drops those scoring 0 or less and sorts the
// rest by descending score. Ties keep retrieval order. The input is not modified.
func Rank(products []schema.Product, fs filters.FilterSet) []schema.Product {
	out := make([]schema.Product, 0, len(products))
	for _, p := range products {
		s := Score(p, fs)
		if s <= 0 {
			continue
		}
		p.Score = s
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// ExcludeBrands removes products whose brand is in exclude.
func ExcludeBrands(products []schema.Product, exclude []string) []schema.Product {
	if len(exclude) == 0 {
		return products
	}
	out := make([]schema.Product, 0, len(products))
	for _, p := range products {
		if containsFold(exclude, strings.ToLower(strings.TrimSpace(p.Brand))) {
			continue
		}
		out = append(out, p)
	}
	return out
}
