package metrics

import (
	"encoding/json"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
)

// TurnMetrics 记录单轮推荐的完整指标
type TurnMetrics struct {
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`

	Intent           string  `json:"intent"`
	IntentConfidence float64 `json:"intent_confidence"`
	IntentSource     string  `json:"intent_source"`

	Filters   string `json:"filters"`
	Predicate string `json:"predicate"`

	RetrievedCount  int    `json:"retrieved_count"`
	CandidateCount  int    `json:"candidate_count"`
	RetrieveLatency int64  `json:"retrieve_latency_ms"`
	RetrieveError   string `json:"retrieve_error,omitempty"`

	Attempts          int  `json:"attempts"`
	ValidatorFallback bool `json:"validator_fallback"`
	RejectionFallback bool `json:"rejection_fallback"`
	Recommendations   int  `json:"recommendations"`

	TotalLatencyMs int64 `json:"total_latency_ms"`
}

func NewTurnMetrics(sessionID, query string) *TurnMetrics {
	return &TurnMetrics{SessionID: sessionID, Query: query, Timestamp: time.Now()}
}

// Finish sets the total latency and logs the record as JSON.
func (m *TurnMetrics) Finish() {
	m.TotalLatencyMs = time.Since(m.Timestamp).Milliseconds()
	m.Log()
}

// Log 将指标以 JSON 格式输出到日志
func (m *TurnMetrics) Log() {
	if data, err := json.Marshal(m); err == nil {
		logger.Infof("[RECOMMEND_METRICS] %s", string(data))
	}
}
