package post

import "github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"

// DropRejected removes recommendations whose product the user rejected.
// When that would leave nothing, the unfiltered list is returned instead so
// the user always gets options. The second result reports whether the
// fallback was taken.
func DropRejected(recs []schema.Recommendation, rejected func(id string) bool) ([]schema.Recommendation, bool) {
	if rejected == nil || len(recs) == 0 {
		return recs, false
	}
	kept := make([]schema.Recommendation, 0, len(recs))
	for _, r := range recs {
		if !rejected(r.ProductID) {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return recs, true
	}
	return kept, false
}
