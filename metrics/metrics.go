package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	retrieverLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recommend_retriever_latency_ms",
		Help:    "Latency of retriever calls in milliseconds",
		Buckets: []float64{10, 25, 50, 75, 100, 150, 200, 300, 500, 800, 1200},
	}, []string{"type"})

	retrieverResults = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recommend_retriever_results",
		Help:    "Number of products returned by a retriever",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	}, []string{"type"})

	retrieverErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recommend_retriever_errors_total",
		Help: "Failed retriever calls",
	}, []string{"type"})

	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recommend_cache_lookups_total",
		Help: "L1 retrieval cache lookups (hit/miss)",
	}, []string{"result"})

	fusionLists = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recommend_fusion_input_lists",
		Help:    "Number of lists fused per query",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
	})

	intentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recommend_intent_total",
		Help: "Classified intents by source (llm/rule)",
	}, []string{"intent", "source"})

	validatorAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recommend_validator_attempts",
		Help:    "Generation attempts per turn",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	})

	fallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recommend_fallback_total",
		Help: "Fallbacks taken (validator/rejection/relax)",
	}, []string{"kind"})

	turnLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recommend_turn_latency_ms",
		Help:    "End to end latency of a turn in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 15000},
	}, []string{"intent"})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

// ObserveRetriever records latency and result size for a retriever type.
func ObserveRetriever(typ string, start time.Time, results int) {
	ensureRegistered()
	dur := time.Since(start).Milliseconds()
	retrieverLatency.WithLabelValues(typ).Observe(float64(dur))
	retrieverResults.WithLabelValues(typ).Observe(float64(results))
}

// IncRetrieverError counts a failed call of a retriever type.
func IncRetrieverError(typ string) {
	ensureRegistered()
	retrieverErrors.WithLabelValues(typ).Inc()
}

// ObserveCache records a cache hit or miss.
func ObserveCache(hit bool) {
	ensureRegistered()
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveFusion records how many lists were fused.
func ObserveFusion(n int) {
	ensureRegistered()
	fusionLists.Observe(float64(n))
}

// IncIntent counts a classified intent.
func IncIntent(intent, source string) {
	ensureRegistered()
	intentTotal.WithLabelValues(intent, source).Inc()
}

// ObserveValidator records attempts and whether the hard fallback was used.
func ObserveValidator(attempts int, fallback bool) {
	ensureRegistered()
	validatorAttempts.Observe(float64(attempts))
	if fallback {
		fallbackTotal.WithLabelValues("validator").Inc()
	}
}

// IncFallback counts a fallback of the given kind.
func IncFallback(kind string) {
	ensureRegistered()
	fallbackTotal.WithLabelValues(kind).Inc()
}

// ObserveTurn records the latency of one turn.
func ObserveTurn(intent string, start time.Time) {
	ensureRegistered()
	turnLatency.WithLabelValues(intent).Observe(float64(time.Since(start).Milliseconds()))
}

// Handler serves the default registry.
func Handler() http.Handler {
	ensureRegistered()
	return promhttp.Handler()
}

// Collectors exposes all collectors for external registration with a custom registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		retrieverLatency, retrieverResults, retrieverErrors, cacheLookups, fusionLists,
		intentTotal, validatorAttempts, fallbackTotal, turnLatency,
	}
}
