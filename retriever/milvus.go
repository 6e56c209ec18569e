package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/metrics"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

const (
	indexBatchSize = 64
	defaultHNSWM   = 16
	defaultHNSWEfC = 200
	defaultHNSWEf  = 64
)

// default VarChar lengths per product attribute
var defaultMaxLength = map[string]int64{
	"id": 64, "name": 512, "brand": 128, "category": 128,
	"features": 2048, "description": 4096,
}

// MilvusRetriever performs vector search over a product collection. Filters
// are pushed down as a Milvus boolean expression.
type MilvusRetriever struct {
	client     client.Client
	collection string
	fields     map[string]string
	mapping    config.MappingConfig
	embedder   llm.Embedder
	metric     entity.MetricType
}

// NewMilvusRetriever connects to Milvus and makes sure the collection exists,
// is indexed and loaded.
func NewMilvusRetriever(ctx context.Context, cfg config.VectorDBConfig, embedder llm.Embedder) (*MilvusRetriever, error) {
	if embedder == nil {
		return nil, errors.New("milvus: embedder is required")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.NewClient(connectCtx, client.Config{
		Address:  fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("milvus: connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	r := newMilvusRetriever(c, cfg, embedder)
	if err := r.EnsureCollection(connectCtx); err != nil {
		c.Close()
		return nil, err
	}
	return r, nil
}

func newMilvusRetriever(c client.Client, cfg config.VectorDBConfig, embedder llm.Embedder) *MilvusRetriever {
	metric := entity.MetricType(strings.ToUpper(cfg.Mapping.Search.MetricType))
	if metric == "" {
		metric = entity.IP
	}
	return &MilvusRetriever{
		client:     c,
		collection: cfg.Collection,
		fields:     cfg.Mapping.RawFields(),
		mapping:    cfg.Mapping,
		embedder:   embedder,
		metric:     metric,
	}
}

func (r *MilvusRetriever) Type() string { return TYPE_MILVUS }

// EnsureCollection creates, indexes and loads the collection when missing.
func (r *MilvusRetriever) EnsureCollection(ctx context.Context) error {
	has, err := r.client.HasCollection(ctx, r.collection)
	if err != nil {
		return fmt.Errorf("milvus: has collection %s: %w", r.collection, err)
	}
	if !has {
		logger.Infof("milvus: creating collection %s", r.collection)
		if err := r.client.CreateCollection(ctx, r.collectionSchema(), 1); err != nil {
			return fmt.Errorf("milvus: create collection %s: %w", r.collection, err)
		}
		idx, err := r.vectorIndex()
		if err != nil {
			return err
		}
		if err := r.client.CreateIndex(ctx, r.collection, r.fields["vector"], idx, false); err != nil {
			return fmt.Errorf("milvus: create index: %w", err)
		}
	}
	if err := r.client.LoadCollection(ctx, r.collection, false); err != nil {
		return fmt.Errorf("milvus: load collection %s: %w", r.collection, err)
	}
	return nil
}

func (r *MilvusRetriever) collectionSchema() *entity.Schema {
	s := entity.NewSchema().
		WithName(r.collection).
		WithDescription("product catalog").
		WithAutoID(false)

	for _, std := range []string{"id", "name", "brand", "category", "features", "description"} {
		f := entity.NewField().
			WithName(r.fields[std]).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(r.maxLength(std))
		if std == "id" {
			f = f.WithIsPrimaryKey(true)
		}
		s = s.WithField(f)
	}
	for _, std := range []string{"price", "rating"} {
		s = s.WithField(entity.NewField().WithName(r.fields[std]).WithDataType(entity.FieldTypeDouble))
	}
	return s.WithField(entity.NewField().
		WithName(r.fields["vector"]).
		WithDataType(entity.FieldTypeFloatVector).
		WithDim(int64(r.embedder.Dimensions())))
}

func (r *MilvusRetriever) maxLength(std string) int64 {
	for _, f := range r.mapping.Fields {
		if f.StandardName == std && f.Properties != nil {
			return int64(f.MaxLength())
		}
	}
	return defaultMaxLength[std]
}

func (r *MilvusRetriever) vectorIndex() (entity.Index, error) {
	switch strings.ToUpper(r.mapping.Index.IndexType) {
	case "", "HNSW":
		m, err := r.mapping.Index.ParamsInt64("M")
		if err != nil {
			m = defaultHNSWM
		}
		efc, err := r.mapping.Index.ParamsInt64("efConstruction")
		if err != nil {
			efc = defaultHNSWEfC
		}
		return entity.NewIndexHNSW(r.metric, int(m), int(efc))
	case "IVF_FLAT":
		nlist, err := r.mapping.Index.ParamsInt64("nlist")
		if err != nil {
			nlist = 128
		}
		return entity.NewIndexIvfFlat(r.metric, int(nlist))
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEX(r.metric)
	default:
		return nil, fmt.Errorf("milvus: unsupported index type %s", r.mapping.Index.IndexType)
	}
}

func (r *MilvusRetriever) searchParam() (entity.SearchParam, error) {
	switch strings.ToUpper(r.mapping.Index.IndexType) {
	case "", "HNSW":
		ef, err := r.mapping.Search.ParamsInt64("ef")
		if err != nil {
			ef = defaultHNSWEf
		}
		return entity.NewIndexHNSWSearchParam(int(ef))
	case "IVF_FLAT":
		nprobe, err := r.mapping.Search.ParamsInt64("nprobe")
		if err != nil {
			nprobe = 16
		}
		return entity.NewIndexIvfFlatSearchParam(int(nprobe))
	default:
		return entity.NewIndexAUTOINDEXSearchParam(1)
	}
}

func (r *MilvusRetriever) outputFields() []string {
	out := make([]string, 0, 8)
	for _, std := range []string{"id", "name", "brand", "category", "price", "rating", "features", "description"} {
		out = append(out, r.fields[std])
	}
	return out
}

func (r *MilvusRetriever) Search(ctx context.Context, query string, expr *filters.Expr, limit int) ([]schema.Product, error) {
	start := time.Now()
	limit = normalizeLimit(limit)

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		metrics.IncRetrieverError(TYPE_MILVUS)
		return nil, fmt.Errorf("milvus: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("milvus: expected 1 query embedding, got %d", len(vecs))
	}
	sp, err := r.searchParam()
	if err != nil {
		return nil, fmt.Errorf("milvus: search param: %w", err)
	}

	milvusExpr := expr.MilvusExpr(r.fields)
	logger.Debugf("milvus: search collection=%s expr=%q topK=%d", r.collection, milvusExpr, limit)
	results, err := r.client.Search(ctx, r.collection, nil, milvusExpr, r.outputFields(),
		[]entity.Vector{entity.FloatVector(vecs[0])}, r.fields["vector"], r.metric, limit, sp)
	if err != nil {
		metrics.IncRetrieverError(TYPE_MILVUS)
		return nil, fmt.Errorf("milvus: search: %w", err)
	}
	var out []schema.Product
	for _, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("milvus: search result: %w", res.Err)
		}
		products, err := r.decode(res)
		if err != nil {
			return nil, err
		}
		out = append(out, products...)
	}
	metrics.ObserveRetriever(TYPE_MILVUS, start, len(out))
	return out, nil
}

func (r *MilvusRetriever) decode(res client.SearchResult) ([]schema.Product, error) {
	col := func(std string) entity.Column { return res.Fields.GetColumn(r.fields[std]) }
	idCol := col("id")
	if idCol == nil {
		return nil, fmt.Errorf("milvus: id field %s missing from result", r.fields["id"])
	}

	out := make([]schema.Product, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		var p schema.Product
		var err error
		if p.ID, err = idCol.GetAsString(i); err != nil {
			return nil, fmt.Errorf("milvus: read id: %w", err)
		}
		p.Name = stringAt(col("name"), i)
		p.Brand = stringAt(col("brand"), i)
		p.Category = stringAt(col("category"), i)
		p.Description = stringAt(col("description"), i)
		p.Price = floatAt(col("price"), i)
		p.Rating = floatAt(col("rating"), i)
		if raw := stringAt(col("features"), i); raw != "" {
			if err := json.Unmarshal([]byte(raw), &p.Features); err != nil {
				logger.Debugf("milvus: product %s has malformed features: %v", p.ID, err)
			}
		}
		if i < len(res.Scores) {
			p.Score = float64(res.Scores[i])
		}
		out = append(out, p)
	}
	return out, nil
}

func stringAt(c entity.Column, i int) string {
	if c == nil {
		return ""
	}
	s, err := c.GetAsString(i)
	if err != nil {
		return ""
	}
	return s
}

func floatAt(c entity.Column, i int) float64 {
	if c == nil {
		return 0
	}
	v, err := c.GetAsDouble(i)
	if err != nil {
		return 0
	}
	return v
}

// Index embeds and upserts products in batches, then flushes.
func (r *MilvusRetriever) Index(ctx context.Context, products []schema.Product) error {
	for start := 0; start < len(products); start += indexBatchSize {
		end := start + indexBatchSize
		if end > len(products) {
			end = len(products)
		}
		if err := r.upsert(ctx, products[start:end]); err != nil {
			return err
		}
	}
	if err := r.client.Flush(ctx, r.collection, false); err != nil {
		return fmt.Errorf("milvus: flush: %w", err)
	}
	logger.Infof("milvus: indexed %d products into %s", len(products), r.collection)
	return nil
}

func (r *MilvusRetriever) upsert(ctx context.Context, batch []schema.Product) error {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = productText(p)
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("milvus: embed products: %w", err)
	}
	if len(vecs) != len(batch) {
		return fmt.Errorf("milvus: expected %d embeddings, got %d", len(batch), len(vecs))
	}

	n := len(batch)
	ids, names, brands, categories := make([]string, n), make([]string, n), make([]string, n), make([]string, n)
	features, descriptions := make([]string, n), make([]string, n)
	prices, ratings := make([]float64, n), make([]float64, n)
	for i, p := range batch {
		ids[i], names[i] = p.ID, p.Name
		// stored folded so pushed-down equality predicates match
		brands[i], categories[i] = filters.Normalize(p.Brand), filters.Normalize(p.Category)
		descriptions[i] = p.Description
		prices[i], ratings[i] = p.Price, p.Rating
		data, err := json.Marshal(p.Features)
		if err != nil {
			return fmt.Errorf("milvus: encode features of %s: %w", p.ID, err)
		}
		features[i] = string(data)
	}

	_, err = r.client.Upsert(ctx, r.collection, "",
		entity.NewColumnVarChar(r.fields["id"], ids),
		entity.NewColumnVarChar(r.fields["name"], names),
		entity.NewColumnVarChar(r.fields["brand"], brands),
		entity.NewColumnVarChar(r.fields["category"], categories),
		entity.NewColumnVarChar(r.fields["features"], features),
		entity.NewColumnVarChar(r.fields["description"], descriptions),
		entity.NewColumnDouble(r.fields["price"], prices),
		entity.NewColumnDouble(r.fields["rating"], ratings),
		entity.NewColumnFloatVector(r.fields["vector"], r.embedder.Dimensions(), vecs),
	)
	if err != nil {
		return fmt.Errorf("milvus: upsert: %w", err)
	}
	return nil
}

func (r *MilvusRetriever) Close() error {
	return r.client.Close()
}
