package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

func init() {
	logger.UseNop()
}

func TestTranslateEmptyIsNoFilter(t *testing.T) {
	assert.Nil(t, Translate(FilterSet{}))
	// exclude-only and features-only sets have nothing to push down
	assert.Nil(t, Translate(FilterSet{BrandExclude: []string{"dell"}, Features: []string{"led"}}))
	assert.Nil(t, Translate(FilterSet{Category: String("   ")}))

	var e *Expr
	assert.Nil(t, e.Where())
	assert.Equal(t, "", e.MilvusExpr(map[string]string{"price": "price"}))
	assert.True(t, e.Matches(schema.Product{}))
}

func TestTranslatePredicates(t *testing.T) {
	fs := FilterSet{
		PriceMin:     Float(100),
		PriceMax:     Float(500),
		Category:     String(" Laptops "),
		BrandInclude: []string{"Lenovo", "Apple"},
		BrandExclude: []string{"dell"},
		RatingMin:    Float(4),
	}
	e := Translate(fs)
	require.NotNil(t, e)
	assert.Equal(t, []Predicate{
		{Field: "price", Op: OpGte, Value: 100.0},
		{Field: "price", Op: OpLte, Value: 500.0},
		{Field: "category", Op: OpEq, Value: "laptops"},
		{Field: "brand", Op: OpEq, Value: "apple"},
		{Field: "rating", Op: OpGte, Value: 4.0},
	}, e.Predicates)
}

func TestTranslateSingleBound(t *testing.T) {
	e := Translate(FilterSet{PriceMax: Float(50)})
	require.NotNil(t, e)
	assert.Equal(t, []Predicate{{Field: "price", Op: OpLte, Value: 50.0}}, e.Predicates)
}

func TestWhere(t *testing.T) {
	single := Translate(FilterSet{Category: String("Phones")})
	assert.Equal(t, map[string]any{"category": "phones"}, single.Where())

	multi := Translate(FilterSet{PriceMax: Float(50), RatingMin: Float(4.5)})
	assert.Equal(t, map[string]any{"$and": []any{
		map[string]any{"price": map[string]any{"$lte": 50.0}},
		map[string]any{"rating": map[string]any{"$gte": 4.5}},
	}}, multi.Where())
}

func TestMilvusExpr(t *testing.T) {
	e := Translate(FilterSet{PriceMin: Float(10.5), BrandInclude: []string{"Apple"}, RatingMin: Float(4)})
	fields := map[string]string{"price": "price", "brand": "brand_name"}

	// rating is not exposed and degrades to no predicate
	assert.Equal(t, `price >= 10.5 && brand_name == "apple"`, e.MilvusExpr(fields))
	assert.Equal(t, "", e.MilvusExpr(nil))
}

func TestMatches(t *testing.T) {
	p := schema.Product{ID: "1", Brand: "Apple", Category: "Laptops", Price: 999, Rating: 4.7}
	tests := []struct {
		name string
		fs   FilterSet
		want bool
	}{
		{"no filter", FilterSet{}, true},
		{"price in range", FilterSet{PriceMin: Float(500), PriceMax: Float(1000)}, true},
		{"price above max", FilterSet{PriceMax: Float(900)}, false},
		{"brand case insensitive", FilterSet{BrandInclude: []string{"APPLE"}}, true},
		{"brand mismatch", FilterSet{BrandInclude: []string{"dell"}}, false},
		{"category", FilterSet{Category: String("laptops")}, true},
		{"rating too low", FilterSet{RatingMin: Float(4.8)}, false},
		{"exclude is not translated", FilterSet{BrandExclude: []string{"apple"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Translate(tt.fs).Matches(p))
		})
	}
}

func TestExprString(t *testing.T) {
	var e *Expr
	assert.Equal(t, "<none>", e.String())
	assert.Equal(t, "price lte 50 AND brand eq sony", Translate(FilterSet{PriceMax: Float(50), BrandInclude: []string{"Sony"}}).String())
}

func TestExprWithout(t *testing.T) {
	e := Translate(FilterSet{PriceMax: Float(50), Category: String("Audio")})

	rest := e.Without("category")
	require.NotNil(t, rest)
	assert.Equal(t, []Predicate{{Field: "price", Op: OpLte, Value: 50.0}}, rest.Predicates)
	assert.Len(t, e.Predicates, 2, "receiver is not modified")

	assert.Nil(t, Translate(FilterSet{Category: String("audio")}).Without("category"))
	var none *Expr
	assert.Nil(t, none.Without("price"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "techsound", Normalize("  TechSound "))
	assert.Equal(t, "", Normalize("   "))
}
