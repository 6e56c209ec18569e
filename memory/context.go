package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

// DefaultMaxHistory 默认保留的对话轮数
const DefaultMaxHistory = 10

// Context owns one conversation's state: bounded turn history, the
// accumulated filter set and the rejected product ids.
// 所有读取方法返回副本，调用方无法通过返回值修改内部状态
type Context struct {
	mu         sync.RWMutex
	maxHistory int
	history    []schema.Turn
	filters    filters.FilterSet
	rejected   map[string]struct{}
	updatedAt  time.Time
}

// NewContext creates an empty context keeping at most maxHistory turns.
func NewContext(maxHistory int) *Context {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Context{
		maxHistory: maxHistory,
		rejected:   make(map[string]struct{}),
		updatedAt:  time.Now(),
	}
}

// AppendTurn records a turn, evicting the oldest turns beyond the bound.
func (c *Context) AppendTurn(t schema.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, t)
	if len(c.history) > c.maxHistory {
		trimmed := make([]schema.Turn, c.maxHistory)
		copy(trimmed, c.history[len(c.history)-c.maxHistory:])
		c.history = trimmed
	}
	c.touch()
}

// MergeFilters folds incoming into the accumulated filters.
func (c *Context) MergeFilters(incoming filters.FilterSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filters = filters.Merge(c.filters, incoming)
	c.touch()
}

// ClearFilters drops every accumulated filter.
func (c *Context) ClearFilters() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filters = filters.FilterSet{}
	c.touch()
}

// ReplaceFilters clears then merges in one step.
func (c *Context) ReplaceFilters(incoming filters.FilterSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filters = filters.Merge(filters.FilterSet{}, incoming)
	c.touch()
}

// MarkRejected adds id to the rejected set. Blank ids are ignored.
func (c *Context) MarkRejected(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rejected[id] = struct{}{}
	c.touch()
}

// Reset clears history, filters and rejected ids together.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = nil
	c.filters = filters.FilterSet{}
	c.rejected = make(map[string]struct{})
	c.touch()
}

// History returns a copy of the retained turns, oldest first.
func (c *Context) History() []schema.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]schema.Turn, len(c.history))
	copy(out, c.history)
	return out
}

// LastTurns returns a copy of the most recent n turns.
func (c *Context) LastTurns(n int) []schema.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n >= len(c.history) {
		out := make([]schema.Turn, len(c.history))
		copy(out, c.history)
		return out
	}
	out := make([]schema.Turn, n)
	copy(out, c.history[len(c.history)-n:])
	return out
}

// Filters returns a deep copy of the accumulated filters.
func (c *Context) Filters() filters.FilterSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.filters.Clone()
}

// RejectedIDs returns the rejected ids sorted.
func (c *Context) RejectedIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.rejected))
	for id := range c.rejected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsRejected reports whether id was rejected in this session.
func (c *Context) IsRejected(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.rejected[id]
	return ok
}

func (c *Context) MaxHistory() int {
	return c.maxHistory
}

// UpdatedAt is the time of the last mutation.
func (c *Context) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

func (c *Context) touch() {
	c.updatedAt = time.Now()
}
