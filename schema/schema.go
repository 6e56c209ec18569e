package schema

import "strings"

// Product is a retrieval candidate. It is read-only once returned by a retriever.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Brand       string   `json:"brand"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	Rating      float64  `json:"rating"`
	Features    []string `json:"features"`
	Description string   `json:"description"`
	// Score is set by backends that rank (vector distance, RRF, local scoring).
	Score float64 `json:"-"`
}

// Recommendation references one product of the current turn's catalog.
type Recommendation struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Reasoning   string `json:"reasoning"`
}

// Result is the validated model output: at most 5 recommendations and 3 follow-ups.
type Result struct {
	Recommendations   []Recommendation `json:"recommendations"`
	Summary           string           `json:"summary"`
	FollowUpQuestions []string         `json:"follow_up_questions"`
}

// Turn is one exchange in a conversation.
type Turn struct {
	User  string `json:"user"`
	Agent string `json:"agent"`
}

// Intent classifies a query's conversational purpose.
type Intent string

const (
	IntentSearch   Intent = "SEARCH"
	IntentRefine   Intent = "REFINE"
	IntentClarify  Intent = "CLARIFY"
	IntentChitchat Intent = "CHITCHAT"
)

// Intents lists the valid intents in declaration order.
var Intents = []Intent{IntentSearch, IntentRefine, IntentClarify, IntentChitchat}

// ParseIntent normalizes s, reporting false for values outside the enumeration.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(strings.ToUpper(strings.TrimSpace(s))) {
	case IntentSearch:
		return IntentSearch, true
	case IntentRefine:
		return IntentRefine, true
	case IntentClarify:
		return IntentClarify, true
	case IntentChitchat:
		return IntentChitchat, true
	}
	return IntentSearch, false
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 || c != c {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
