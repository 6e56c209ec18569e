package prompt

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
)

const DefaultEncoding = "cl100k_base"

// Counter returns the number of tokens in text.
type Counter func(text string) int

// TokenBudget caps the size of the rendered prompt.
type TokenBudget struct {
	limit   int
	once    sync.Once
	counter Counter
}

// NewTokenBudget returns a budget of limit tokens counted with the cl100k_base
// encoding. The encoding is loaded on first use; if it cannot be loaded the
// budget falls back to roughly four characters per token. A limit <= 0
// disables trimming.
func NewTokenBudget(limit int) *TokenBudget {
	return &TokenBudget{limit: limit}
}

// NewTokenBudgetWithCounter uses the given counter instead of tiktoken.
func NewTokenBudgetWithCounter(limit int, counter Counter) *TokenBudget {
	b := &TokenBudget{limit: limit, counter: counter}
	b.once.Do(func() {})
	return b
}

func (b *TokenBudget) Limit() int {
	return b.limit
}

func (b *TokenBudget) init() {
	b.once.Do(func() {
		enc, err := tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			logger.Warnf("tiktoken encoding %s unavailable, estimating tokens by length: %v", DefaultEncoding, err)
			b.counter = estimateTokens
			return
		}
		b.counter = func(text string) int {
			return len(enc.Encode(text, nil, nil))
		}
	})
}

// Count returns the token count of text.
func (b *TokenBudget) Count(text string) int {
	if text == "" {
		return 0
	}
	b.init()
	return b.counter(text)
}

// Fit keeps the longest prefix of items that, joined by sep, fits in the
// budget after reserving reserved tokens. The first item is always kept so
// the model has something to recommend.
func (b *TokenBudget) Fit(items []string, sep string, reserved int) []string {
	if b.limit <= 0 || len(items) <= 1 {
		return items
	}
	available := b.limit - reserved
	sepTokens := b.Count(sep)
	used := 0
	for i, item := range items {
		cost := b.Count(item)
		if i > 0 {
			cost += sepTokens
		}
		if i > 0 && used+cost > available {
			logger.Debugf("token budget %d reached, keeping %d of %d products", b.limit, i, len(items))
			return items[:i]
		}
		used += cost
	}
	return items
}

func estimateTokens(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
