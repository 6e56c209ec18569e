package recommend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/httpx"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/orchestrator"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/retriever"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var ErrEmptyQuery = errors.New("query must not be empty")

// RecommendClient owns the session store and the turn pipeline. Turns of the
// same session are serialized; different sessions run concurrently.
type RecommendClient struct {
	config       *config.Config
	store        SessionStore
	orchestrator *orchestrator.Orchestrator
	retriever    retriever.Retriever
}

// RecommendResult is the response of one turn together with its session.
type RecommendResult struct {
	SessionID string `json:"session_id"`
	*orchestrator.Response
}

// SessionInfo is the inspectable state of a session.
type SessionInfo struct {
	ID          string            `json:"session_id"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	History     []schema.Turn     `json:"history"`
	Filters     filters.FilterSet `json:"filters"`
	RejectedIDs []string          `json:"rejected_ids"`
}

// TranslateResult shows how a filter set reaches each backend.
type TranslateResult struct {
	Filters    filters.FilterSet   `json:"filters"`
	Predicates []filters.Predicate `json:"predicates"`
	Where      map[string]any      `json:"where,omitempty"`
	Milvus     string              `json:"milvus_expr"`
}

// NewRecommendClient wires the LLM provider, retrieval chain, session store
// and orchestrator described by cfg.
func NewRecommendClient(ctx context.Context, cfg *config.Config) (*RecommendClient, error) {
	hc := httpx.NewFromConfig(&cfg.HTTP)

	var provider llm.Provider
	if cfg.LLM.Provider != "" {
		timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
		p, err := llm.NewLLMProvider(cfg.LLM, &http.Client{Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("create llm provider failed, err: %w", err)
		}
		provider = p
	} else {
		logger.Infof("recommend: no llm provider configured, running rule-based")
	}

	r, err := retriever.NewFromConfig(ctx, cfg, retriever.Deps{HTTP: hc})
	if err != nil {
		return nil, fmt.Errorf("create retriever failed, err: %w", err)
	}
	store, err := NewSessionStore(ctx, cfg)
	if err != nil {
		_ = retriever.Close(r)
		return nil, fmt.Errorf("create session store failed, err: %w", err)
	}
	orch, err := orchestrator.New(cfg, provider, r)
	if err != nil {
		_ = retriever.Close(r)
		_ = store.Close()
		return nil, fmt.Errorf("create orchestrator failed, err: %w", err)
	}
	return newRecommendClient(cfg, store, orch, r), nil
}

func newRecommendClient(cfg *config.Config, store SessionStore, orch *orchestrator.Orchestrator, r retriever.Retriever) *RecommendClient {
	return &RecommendClient{config: cfg, store: store, orchestrator: orch, retriever: r}
}

// Recommend runs one turn. An empty sessionID starts a new session.
func (c *RecommendClient) Recommend(ctx context.Context, sessionID, query string) (*RecommendResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if sessionID == "" {
		sess, err := c.store.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		sessionID = sess.ID
	}

	unlock := c.store.Lock(sessionID)
	defer unlock()

	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	resp := c.orchestrator.ProcessSession(ctx, sessionID, sess.Context, query)
	if err := c.store.Save(ctx, sess); err != nil {
		// the turn already happened; only its persistence is lost
		logger.Errorf("recommend: save session %s failed: %v", sessionID, err)
	}
	return &RecommendResult{SessionID: sessionID, Response: resp}, nil
}

// RejectProduct excludes productID from the session's future recommendations.
func (c *RecommendClient) RejectProduct(ctx context.Context, sessionID, productID string) (*SessionInfo, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, errors.New("product_id must not be empty")
	}
	return c.mutate(ctx, sessionID, func(sess *Session) { sess.Context.MarkRejected(productID) })
}

// ResetSession clears history, filters and rejected products.
func (c *RecommendClient) ResetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	return c.mutate(ctx, sessionID, func(sess *Session) { sess.Context.Reset() })
}

func (c *RecommendClient) mutate(ctx context.Context, sessionID string, fn func(*Session)) (*SessionInfo, error) {
	unlock := c.store.Lock(sessionID)
	defer unlock()

	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	fn(sess)
	if err := c.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sessionInfo(sess), nil
}

func (c *RecommendClient) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sessionInfo(sess), nil
}

// ListSessions pages through sessions, most recently updated first.
func (c *RecommendClient) ListSessions(ctx context.Context, offset, limit int) ([]*SessionInfo, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	list, err := c.store.ListRange(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, sessionInfo(s))
	}
	return out, nil
}

func (c *RecommendClient) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	unlock := c.store.Lock(sessionID)
	defer unlock()
	return c.store.Delete(ctx, sessionID)
}

// TranslateFilters normalizes raw filters and renders them for every backend.
func (c *RecommendClient) TranslateFilters(raw map[string]any) *TranslateResult {
	fs := filters.Merge(filters.FilterSet{}, filters.FromMap(raw))
	expr := filters.Translate(fs)
	res := &TranslateResult{
		Filters:    fs,
		Predicates: []filters.Predicate{},
		Where:      expr.Where(),
		Milvus:     expr.MilvusExpr(c.config.VectorDB.Mapping.RawFields()),
	}
	if expr != nil {
		res.Predicates = expr.Predicates
	}
	return res
}

// IndexProducts stores products in the first backend that supports indexing
// and drops cached search results.
func (c *RecommendClient) IndexProducts(ctx context.Context, products []schema.Product) (int, error) {
	if len(products) == 0 {
		return 0, errors.New("no products to index")
	}
	for i, p := range products {
		if strings.TrimSpace(p.ID) == "" {
			return 0, fmt.Errorf("product %d has no id", i)
		}
	}
	idx, ok := retriever.FindIndexer(c.retriever)
	if !ok {
		return 0, fmt.Errorf("retriever %s does not support indexing", retriever.Describe(c.retriever))
	}
	if err := idx.Index(ctx, products); err != nil {
		return 0, err
	}
	if cached, ok := c.retriever.(*retriever.CachedRetriever); ok {
		cached.Purge()
	}
	return len(products), nil
}

func (c *RecommendClient) Close() error {
	return errors.Join(retriever.Close(c.retriever), c.store.Close())
}

func sessionInfo(s *Session) *SessionInfo {
	return &SessionInfo{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.Context.UpdatedAt(),
		History:     s.Context.History(),
		Filters:     s.Context.Filters(),
		RejectedIDs: s.Context.RejectedIDs(),
	}
}
