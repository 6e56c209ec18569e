package filters

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

type Op string

const (
	OpEq  Op = "eq"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

// Predicate is one field constraint. Value is float64 for numeric fields and
// a lower-cased string otherwise.
type Predicate struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Expr is a conjunction of predicates. A nil *Expr means "no filter".
type Expr struct {
	Predicates []Predicate `json:"predicates"`
}

// Translate builds the backend-neutral retrieval filter for fs.
//
// brand_include keeps only its first value in sorted order because not every
// backend supports IN-lists; the remaining brands are enforced by local
// scoring. brand_exclude and features are never translated. Returns nil when
// no field is constrained.
func Translate(fs FilterSet) *Expr {
	var preds []Predicate
	if fs.PriceMin != nil {
		preds = append(preds, Predicate{Field: "price", Op: OpGte, Value: *fs.PriceMin})
	}
	if fs.PriceMax != nil {
		preds = append(preds, Predicate{Field: "price", Op: OpLte, Value: *fs.PriceMax})
	}
	if fs.Category != nil {
		if c := Normalize(*fs.Category); c != "" {
			preds = append(preds, Predicate{Field: "category", Op: OpEq, Value: c})
		}
	}
	if brands := NormalizeSet(fs.BrandInclude); len(brands) > 0 {
		preds = append(preds, Predicate{Field: "brand", Op: OpEq, Value: brands[0]})
	}
	if fs.RatingMin != nil {
		preds = append(preds, Predicate{Field: "rating", Op: OpGte, Value: *fs.RatingMin})
	}
	if len(preds) == 0 {
		return nil
	}
	return &Expr{Predicates: preds}
}

// Normalize is the case folding applied to string predicates and to the
// brand and category values they are compared against.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Where renders a Chroma-style where clause: a single predicate unwrapped,
// several wrapped in {"$and": [...]}, nil for no filter.
func (e *Expr) Where() map[string]any {
	if e == nil || len(e.Predicates) == 0 {
		return nil
	}
	clauses := make([]any, 0, len(e.Predicates))
	for _, p := range e.Predicates {
		switch p.Op {
		case OpEq:
			clauses = append(clauses, map[string]any{p.Field: p.Value})
		case OpGte:
			clauses = append(clauses, map[string]any{p.Field: map[string]any{"$gte": p.Value}})
		case OpLte:
			clauses = append(clauses, map[string]any{p.Field: map[string]any{"$lte": p.Value}})
		default:
			logger.Warnf("filters: unsupported op %q for field %s, skipped", p.Op, p.Field)
		}
	}
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0].(map[string]any)
	}
	return map[string]any{"$and": clauses}
}

// MilvusExpr renders a Milvus boolean expression. fields maps standard field
// names to collection fields; predicates on unmapped fields are skipped.
// Returns "" for no filter.
func (e *Expr) MilvusExpr(fields map[string]string) string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, len(e.Predicates))
	for _, p := range e.Predicates {
		name, ok := fields[p.Field]
		if !ok || name == "" {
			logger.Debugf("filters: field %s not exposed by collection, predicate skipped", p.Field)
			continue
		}
		var op string
		switch p.Op {
		case OpEq:
			op = "=="
		case OpGte:
			op = ">="
		case OpLte:
			op = "<="
		default:
			logger.Warnf("filters: unsupported op %q for field %s, skipped", p.Op, p.Field)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", name, op, milvusLiteral(p.Value)))
	}
	return strings.Join(parts, " && ")
}

func milvusLiteral(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return strconv.Quote(t)
	default:
		return strconv.Quote(fmt.Sprint(t))
	}
}

// Matches evaluates the expression against p locally, for backends with no
// native filter language. String comparison is case-insensitive.
func (e *Expr) Matches(p schema.Product) bool {
	if e == nil {
		return true
	}
	for _, pred := range e.Predicates {
		var actual any
		switch pred.Field {
		case "price":
			actual = p.Price
		case "rating":
			actual = p.Rating
		case "brand":
			actual = Normalize(p.Brand)
		case "category":
			actual = Normalize(p.Category)
		default:
			continue
		}
		if !compare(actual, pred.Op, pred.Value) {
			return false
		}
	}
	return true
}

func compare(actual any, op Op, want any) bool {
	switch a := actual.(type) {
	case float64:
		w, ok := want.(float64)
		if !ok {
			return true
		}
		switch op {
		case OpEq:
			return a == w
		case OpGte:
			return a >= w
		case OpLte:
			return a <= w
		}
	case string:
		w, ok := want.(string)
		if !ok {
			return true
		}
		if op == OpEq {
			return a == w
		}
	}
	return true
}

// Without returns a copy of e minus the predicates on field, or nil when none
// remain.
func (e *Expr) Without(field string) *Expr {
	if e == nil {
		return nil
	}
	preds := make([]Predicate, 0, len(e.Predicates))
	for _, p := range e.Predicates {
		if p.Field != field {
			preds = append(preds, p)
		}
	}
	if len(preds) == 0 {
		return nil
	}
	return &Expr{Predicates: preds}
}

// String renders the expression for logs and cache keys.
func (e *Expr) String() string {
	if e == nil || len(e.Predicates) == 0 {
		return "<none>"
	}
	parts := make([]string, 0, len(e.Predicates))
	for _, p := range e.Predicates {
		parts = append(parts, fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value))
	}
	return strings.Join(parts, " AND ")
}
