package filters

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FilterSet holds the structured constraints accumulated across a session.
// A nil scalar or empty set means unconstrained. Set-valued fields are kept
// lower-cased, deduplicated and sorted.
type FilterSet struct {
	PriceMin     *float64 `json:"price_min,omitempty"`
	PriceMax     *float64 `json:"price_max,omitempty"`
	BrandInclude []string `json:"brand_include,omitempty"`
	BrandExclude []string `json:"brand_exclude,omitempty"`
	Category     *string  `json:"category,omitempty"`
	Features     []string `json:"features,omitempty"`
	RatingMin    *float64 `json:"rating_min,omitempty"`
}

// Keys lists the known filter fields in canonical order.
var Keys = []string{"price_min", "price_max", "brand_include", "brand_exclude", "category", "features", "rating_min"}

func Float(v float64) *float64 { return &v }

func String(s string) *string { return &s }

// IsEmpty reports whether every field is unconstrained.
func (f FilterSet) IsEmpty() bool {
	return f.PriceMin == nil && f.PriceMax == nil && f.Category == nil && f.RatingMin == nil &&
		len(f.BrandInclude) == 0 && len(f.BrandExclude) == 0 && len(f.Features) == 0
}

// Clone returns a deep copy; no pointer or slice is shared with f.
func (f FilterSet) Clone() FilterSet {
	return FilterSet{
		PriceMin:     cloneFloat(f.PriceMin),
		PriceMax:     cloneFloat(f.PriceMax),
		BrandInclude: cloneStrings(f.BrandInclude),
		BrandExclude: cloneStrings(f.BrandExclude),
		Category:     cloneString(f.Category),
		Features:     cloneStrings(f.Features),
		RatingMin:    cloneFloat(f.RatingMin),
	}
}

// Merge combines an accumulated filter set with a newly extracted one.
// Non-nil incoming scalars override; sets are unioned. Nothing accumulated is
// ever removed. Neither argument is modified.
func Merge(existing, incoming FilterSet) FilterSet {
	out := existing.Clone()
	if incoming.PriceMin != nil {
		out.PriceMin = cloneFloat(incoming.PriceMin)
	}
	if incoming.PriceMax != nil {
		out.PriceMax = cloneFloat(incoming.PriceMax)
	}
	if incoming.Category != nil {
		out.Category = cloneString(incoming.Category)
	}
	if incoming.RatingMin != nil {
		out.RatingMin = cloneFloat(incoming.RatingMin)
	}
	out.BrandInclude = NormalizeSet(append(out.BrandInclude, incoming.BrandInclude...))
	out.BrandExclude = NormalizeSet(append(out.BrandExclude, incoming.BrandExclude...))
	out.Features = NormalizeSet(append(out.Features, incoming.Features...))
	return out
}

// FillUnset copies scalar values from frag into fields f leaves unset.
// Set-valued fields of frag are ignored.
func (f FilterSet) FillUnset(frag FilterSet) FilterSet {
	out := f.Clone()
	if out.PriceMin == nil && frag.PriceMin != nil {
		out.PriceMin = cloneFloat(frag.PriceMin)
	}
	if out.PriceMax == nil && frag.PriceMax != nil {
		out.PriceMax = cloneFloat(frag.PriceMax)
	}
	if out.Category == nil && frag.Category != nil {
		out.Category = cloneString(frag.Category)
	}
	if out.RatingMin == nil && frag.RatingMin != nil {
		out.RatingMin = cloneFloat(frag.RatingMin)
	}
	return out
}

// NormalizeSet trims, lower-cases, drops blanks, deduplicates and sorts.
// It returns nil for an empty result.
func NormalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// FromMap coerces loosely typed fields, as produced by a model or a YAML file,
// into a FilterSet. A scalar given for a set field becomes a one-element set,
// numeric strings such as "$1,200" become numbers, and values that cannot be
// coerced are dropped for that field only.
func FromMap(m map[string]any) FilterSet {
	var f FilterSet
	if m == nil {
		return f
	}
	f.PriceMin = coerceNumber(m["price_min"])
	f.PriceMax = coerceNumber(m["price_max"])
	f.RatingMin = coerceNumber(m["rating_min"])
	f.Category = coerceString(m["category"])
	f.BrandInclude = NormalizeSet(coerceStrings(m["brand_include"]))
	f.BrandExclude = NormalizeSet(coerceStrings(m["brand_exclude"]))
	f.Features = NormalizeSet(coerceStrings(m["features"]))
	return f
}

// ParseJSON decodes a JSON object leniently through FromMap.
func ParseJSON(data []byte) (FilterSet, error) {
	var m map[string]any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return FilterSet{}, fmt.Errorf("decode filters: %w", err)
	}
	return FromMap(m), nil
}

// ToMap renders only the constrained fields.
func (f FilterSet) ToMap() map[string]any {
	m := map[string]any{}
	if f.PriceMin != nil {
		m["price_min"] = *f.PriceMin
	}
	if f.PriceMax != nil {
		m["price_max"] = *f.PriceMax
	}
	if len(f.BrandInclude) > 0 {
		m["brand_include"] = cloneStrings(f.BrandInclude)
	}
	if len(f.BrandExclude) > 0 {
		m["brand_exclude"] = cloneStrings(f.BrandExclude)
	}
	if f.Category != nil {
		m["category"] = *f.Category
	}
	if len(f.Features) > 0 {
		m["features"] = cloneStrings(f.Features)
	}
	if f.RatingMin != nil {
		m["rating_min"] = *f.RatingMin
	}
	return m
}

// String renders the set as compact JSON, "{}" when empty.
func (f FilterSet) String() string {
	b, err := json.Marshal(f)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func coerceNumber(v any) *float64 {
	var n float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case uint64:
		n = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		n = parsed
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	return &n
}

func coerceString(v any) *string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		return &s
	case []any:
		for _, item := range t {
			if s := coerceString(item); s != nil {
				return s
			}
		}
	case []string:
		for _, item := range t {
			if s := coerceString(item); s != nil {
				return s
			}
		}
	}
	return nil
}

func coerceStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case float64, int, int64, json.Number:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	case float64, int, int64, json.Number:
		return []string{fmt.Sprint(t)}
	}
	return nil
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
