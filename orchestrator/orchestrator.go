package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/extract"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/memory"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/metrics"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/post"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/prompt"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/retriever"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/router"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/validator"
)

var errNoProvider = errors.New("orchestrator: no llm provider configured")

// Response is the outcome of one turn.
type Response struct {
	Recommendations []schema.Recommendation `json:"recommendations"`
	Summary         string                  `json:"summary"`
	Intent          schema.Intent           `json:"intent"`
	Confidence      float64                 `json:"confidence"`
	// Filters is the session filter state after this turn's transition.
	Filters           filters.FilterSet `json:"filters"`
	FollowUpQuestions []string          `json:"follow_up_questions"`
}

// Orchestrator wires the per-turn recommendation pipeline stages.
type Orchestrator struct {
	Cfg       *config.Config
	Provider  llm.Provider
	Router    router.Router
	Extractor extract.Extractor
	Retriever retriever.Retriever
	Builder   *prompt.Builder
	Validator *validator.Validator

	// fallback when Extractor fails; never fails itself
	ruleExtractor extract.Extractor
}

// New assembles an orchestrator from cfg. provider may be nil, in which case
// routing and extraction are rule-based and every turn ends in the
// validator's fallback result.
func New(cfg *config.Config, provider llm.Provider, r retriever.Retriever) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if r == nil {
		return nil, errors.New("orchestrator: retriever is required")
	}
	templates, err := prompt.LoadTemplates(cfg.Agent.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	lexicon, err := extract.LoadLexicon(cfg.Lexicon)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	var budget *prompt.TokenBudget
	if cfg.Agent.TokenBudget > 0 {
		budget = prompt.NewTokenBudget(cfg.Agent.TokenBudget)
	}
	v := validator.New(cfg.Agent.MaxRetries)
	if cfg.Agent.MaxRecommendations > 0 {
		v.MaxRecommendations = cfg.Agent.MaxRecommendations
	}

	return &Orchestrator{
		Cfg:           cfg,
		Provider:      provider,
		Router:        router.NewRouter(cfg.Agent.Router, provider, templates),
		Extractor:     extract.NewExtractor(cfg.Agent.Extractor, provider, templates, lexicon),
		Retriever:     r,
		Builder:       prompt.NewBuilder(templates, budget),
		Validator:     v,
		ruleExtractor: extract.NewRuleBasedExtractor(lexicon),
	}, nil
}

// Process runs one turn against sc. It never fails: collaborator errors end
// in fallbacks and the response is always well-formed.
func (o *Orchestrator) Process(ctx context.Context, sc *memory.Context, query string) *Response {
	return o.ProcessSession(ctx, "", sc, query)
}

// ProcessSession is Process with the session id recorded in turn metrics.
func (o *Orchestrator) ProcessSession(ctx context.Context, sessionID string, sc *memory.Context, query string) *Response {
	start := time.Now()
	tm := metrics.NewTurnMetrics(sessionID, query)
	defer tm.Finish()

	history := sc.History()

	// 1. intent
	decision := o.classify(ctx, query, history)
	tm.Intent = string(decision.Intent)
	tm.IntentConfidence = decision.Confidence
	tm.IntentSource = decision.Source
	metrics.IncIntent(string(decision.Intent), decision.Source)

	// 2. filters for this query, then the intent transition on the session
	extracted := o.extract(ctx, query, history, sc.Filters())
	router.ApplyTransition(decision.Intent, sc, extracted)
	fs := sc.Filters()
	tm.Filters = fs.String()

	// 3. retrieval
	catalog := o.retrieve(ctx, query, fs, tm)

	// 4. local scoring; brand_exclude is only enforced here
	catalog = post.Rank(post.ExcludeBrands(catalog, fs.BrandExclude), fs)
	tm.CandidateCount = len(catalog)

	// 5. generation and validation against this turn's catalog
	p := o.Builder.Build(query, history, fs, catalog)
	result, report := o.Validator.Run(ctx, o.generator(p), catalog)
	tm.Attempts = report.Attempts
	tm.ValidatorFallback = report.Fallback
	metrics.ObserveValidator(report.Attempts, report.Fallback)

	// 6. rejected products, falling back to the unfiltered list
	recs, rejectionFallback := post.DropRejected(result.Recommendations, sc.IsRejected)
	if rejectionFallback {
		logger.Infof("orchestrator: every recommendation was rejected before, keeping %d", len(recs))
		metrics.IncFallback("rejection")
	}
	tm.RejectionFallback = rejectionFallback
	tm.Recommendations = len(recs)

	sc.AppendTurn(schema.Turn{User: query, Agent: result.Summary})
	metrics.ObserveTurn(string(decision.Intent), start)

	return &Response{
		Recommendations:   recs,
		Summary:           result.Summary,
		Intent:            decision.Intent,
		Confidence:        decision.Confidence,
		Filters:           fs,
		FollowUpQuestions: result.FollowUpQuestions,
	}
}

func (o *Orchestrator) classify(ctx context.Context, query string, history []schema.Turn) *router.Decision {
	if o.Router != nil {
		decision, err := o.Router.Classify(ctx, query, history)
		if err == nil && decision != nil {
			return decision
		}
		logger.Warnf("orchestrator: intent classification failed, using heuristic: %v", err)
	}
	return router.Heuristic(query, len(history) > 0)
}

func (o *Orchestrator) extract(ctx context.Context, query string, history []schema.Turn, existing filters.FilterSet) filters.FilterSet {
	if o.Extractor != nil {
		fs, err := o.Extractor.Extract(ctx, query, history, existing)
		if err == nil {
			return fs
		}
		logger.Warnf("orchestrator: filter extraction failed, using rules: %v", err)
	}
	fallback := o.ruleExtractor
	if fallback == nil {
		fallback = extract.NewRuleBasedExtractor(nil)
	}
	fs, _ := fallback.Extract(ctx, query, history, existing)
	return fs
}

func (o *Orchestrator) retrieve(ctx context.Context, query string, fs filters.FilterSet, tm *metrics.TurnMetrics) []schema.Product {
	if o.Retriever == nil {
		return nil
	}
	expr := filters.Translate(fs)
	tm.Predicate = expr.String()

	start := time.Now()
	products, err := o.Retriever.Search(ctx, query, expr, o.topK())
	tm.RetrieveLatency = time.Since(start).Milliseconds()
	if err != nil {
		logger.Warnf("orchestrator: retrieval failed, continuing with an empty catalog: %v", err)
		tm.RetrieveError = err.Error()
		return nil
	}
	tm.RetrievedCount = len(products)
	return products
}

func (o *Orchestrator) generator(p string) validator.Generator {
	return func(ctx context.Context) (string, error) {
		if o.Provider == nil {
			return "", errNoProvider
		}
		return o.Provider.GenerateCompletion(ctx, p)
	}
}

func (o *Orchestrator) topK() int {
	if o.Cfg != nil && o.Cfg.Agent.TopK > 0 {
		return o.Cfg.Agent.TopK
	}
	return retriever.DefaultTopK
}
