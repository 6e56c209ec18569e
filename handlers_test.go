package recommend

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
)

func callTool(t *testing.T, handler server.ToolHandlerFunc, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()
	require.False(t, res.IsError, resultText(t, res))
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), v))
}

func TestToolsAreRegistered(t *testing.T) {
	tools := Tools(newTestClient(t))

	var names []string
	for _, tool := range tools {
		names = append(names, tool.Tool.Name)
		assert.True(t, json.Valid(tool.Tool.RawInputSchema), tool.Tool.Name)
		assert.NotNil(t, tool.Handler, tool.Tool.Name)
	}
	assert.Equal(t, []string{
		"recommend", "reject-product", "reset-session", "get-session",
		"list-sessions", "delete-session", "translate-filters", "index-products",
	}, names)

	assert.NotNil(t, NewServer(config.Default(), newTestClient(t)))
}

func TestHandleRecommend(t *testing.T) {
	c := newTestClient(t)

	res := callTool(t, HandleRecommend(c), "recommend", map[string]any{"query": "I want something cheap"})
	var out struct {
		SessionID       string `json:"session_id"`
		Intent          string `json:"intent"`
		Recommendations []struct {
			ProductID string `json:"product_id"`
		} `json:"recommendations"`
		Filters struct {
			PriceMax *float64 `json:"price_max"`
		} `json:"filters"`
	}
	decodeResult(t, res, &out)
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, "SEARCH", out.Intent)
	require.Len(t, out.Recommendations, 1)
	assert.Equal(t, "e1", out.Recommendations[0].ProductID)
	require.NotNil(t, out.Filters.PriceMax)
	assert.Equal(t, 50.0, *out.Filters.PriceMax)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", map[string]any{}},
		{"blank query", map[string]any{"query": "  "}},
		{"unknown session", map[string]any{"query": "earbuds", "session_id": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, HandleRecommend(c), "recommend", tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), "recommend failed")
		})
	}
}

func TestHandleSessionTools(t *testing.T) {
	c := newTestClient(t)
	first, err := c.Recommend(context.Background(), "", "headphones")
	require.NoError(t, err)
	id := first.SessionID

	var info SessionInfo
	res := callTool(t, HandleRejectProduct(c), "reject-product", map[string]any{"session_id": id, "product_id": "e2"})
	decodeResult(t, res, &info)
	assert.Equal(t, []string{"e2"}, info.RejectedIDs)

	res = callTool(t, HandleGetSession(c), "get-session", map[string]any{"session_id": id})
	decodeResult(t, res, &info)
	assert.Equal(t, id, info.ID)
	assert.Len(t, info.History, 1)

	var list struct {
		Sessions []SessionInfo `json:"sessions"`
		Count    int           `json:"count"`
	}
	res = callTool(t, HandleListSessions(c), "list-sessions", map[string]any{"offset": float64(0), "limit": float64(10)})
	decodeResult(t, res, &list)
	assert.Equal(t, 1, list.Count)

	res = callTool(t, HandleResetSession(c), "reset-session", map[string]any{"session_id": id})
	decodeResult(t, res, &info)
	assert.Empty(t, info.History)
	assert.Empty(t, info.RejectedIDs)

	res = callTool(t, HandleDeleteSession(c), "delete-session", map[string]any{"session_id": id})
	assert.False(t, res.IsError)

	for name, handler := range map[string]server.ToolHandlerFunc{
		"get-session":    HandleGetSession(c),
		"reset-session":  HandleResetSession(c),
		"delete-session": HandleDeleteSession(c),
	} {
		res := callTool(t, handler, name, map[string]any{"session_id": id})
		assert.True(t, res.IsError, name)
		assert.Contains(t, resultText(t, res), ErrSessionNotFound.Error(), name)
	}

	res = callTool(t, HandleRejectProduct(c), "reject-product", map[string]any{"session_id": id})
	assert.True(t, res.IsError)
}

func TestHandleTranslateFilters(t *testing.T) {
	c := newTestClient(t)

	res := callTool(t, HandleTranslateFilters(c), "translate-filters", map[string]any{
		"filters": map[string]any{"price_max": float64(100), "category": "Audio"},
	})
	var out TranslateResult
	decodeResult(t, res, &out)
	assert.Equal(t, `price <= 100 && category == "audio"`, out.Milvus)
	assert.Len(t, out.Predicates, 2)

	res = callTool(t, HandleTranslateFilters(c), "translate-filters", map[string]any{"filters": "cheap"})
	assert.True(t, res.IsError)
}

func TestHandleIndexProducts(t *testing.T) {
	c := newTestClient(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing products", map[string]any{}, "products is required"},
		{"not a list", map[string]any{"products": "x1"}, "products:"},
		{"no indexing backend", map[string]any{"products": []any{map[string]any{"id": "x1", "name": "X"}}}, "does not support indexing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, HandleIndexProducts(c), "index-products", tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.want)
		})
	}
}
