package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/filters"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

// Snapshot is the serializable form of a Context, used by persistent session stores.
type Snapshot struct {
	History    []schema.Turn     `json:"history"`
	Filters    filters.FilterSet `json:"filters"`
	Rejected   []string          `json:"rejected_ids"`
	MaxHistory int               `json:"max_history"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Snapshot captures the current state.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		History:    c.History(),
		Filters:    c.Filters(),
		Rejected:   c.RejectedIDs(),
		MaxHistory: c.maxHistory,
		UpdatedAt:  c.UpdatedAt(),
	}
}

// Restore builds a Context from s. The history bound is re-applied, so a
// snapshot taken with a larger bound is trimmed to the most recent turns.
func Restore(s Snapshot, maxHistory int) *Context {
	if maxHistory <= 0 {
		maxHistory = s.MaxHistory
	}
	c := NewContext(maxHistory)
	history := s.History
	if len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}
	c.history = append([]schema.Turn(nil), history...)
	c.filters = filters.Merge(filters.FilterSet{}, s.Filters)
	for _, id := range s.Rejected {
		if id != "" {
			c.rejected[id] = struct{}{}
		}
	}
	if !s.UpdatedAt.IsZero() {
		c.updatedAt = s.UpdatedAt
	}
	return c
}

// Marshal encodes the snapshot as JSON.
func (s Snapshot) Marshal() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

// UnmarshalSnapshot decodes a snapshot produced by Marshal.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}
