package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/schema"
)

func HandleRecommend(c *RecommendClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		query, _ := args["query"].(string)
		sessionID, _ := args["session_id"].(string)
		res, err := c.Recommend(ctx, sessionID, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("recommend failed, err: %v", err)), nil
		}
		return buildJSONResult(res)
	}
}

func HandleRejectProduct(c *RecommendClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		sessionID, _ := args["session_id"].(string)
		productID, _ := args["product_id"].(string)
		info, err := c.RejectProduct(ctx, sessionID, productID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reject product failed, err: %v", err)), nil
		}
		return buildJSONResult(info)
	}
}

func HandleResetSession(c *RecommendClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.GetArguments()["session_id"].(string)
		info, err := c.ResetSession(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reset session failed, err: %v", err)), nil
		}
		return buildJSONResult(info)
	}
}

func HandleGetSession(c *RecommendClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.GetArguments()["session_id"].(string)
		info, err := c.GetSession(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get session failed, err: %v", err)), nil
		}
		return buildJSONResult(info)
	}
}

func HandleListSessions(c *RecommendClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		offset, limit := 0, 0
		if v, ok := args["offset"].(float64); ok {
			offset = int(v)
		}
		if v, ok := args["limit"].(float64); ok {
			limit = int(v)
		}
		sessions, err := c.ListSessions(ctx, offset, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list sessions failed, err: %v", err)), nil
		}
		return buildJSONResult(map[string]any{"sessions": sessions, "count": len(sessions)})
	}
}

func HandleDeleteSession(c *RecommendClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.GetArguments()["session_id"].(string)
		deleted, err := c.DeleteSession(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete session failed, err: %v", err)), nil
		}
		if !deleted {
			return mcp.NewToolResultError(fmt.Sprintf("delete session failed, err: %v", ErrSessionNotFound)), nil
		}
		return buildJSONResult(map[string]any{"session_id": sessionID, "deleted": true})
	}
}

func HandleTranslateFilters(c *RecommendClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := request.GetArguments()["filters"].(map[string]any)
		if !ok {
			return mcp.NewToolResultError("translate filters failed, err: filters must be an object"), nil
		}
		return buildJSONResult(c.TranslateFilters(raw))
	}
}

func HandleIndexProducts(c *RecommendClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		products, err := decodeProducts(request.GetArguments()["products"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("index products failed, err: %v", err)), nil
		}
		n, err := c.IndexProducts(ctx, products)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("index products failed, err: %v", err)), nil
		}
		return buildJSONResult(map[string]any{"indexed": n})
	}
}

func decodeProducts(v any) ([]schema.Product, error) {
	if v == nil {
		return nil, errors.New("products is required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var products []schema.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("products: %w", err)
	}
	return products, nil
}

func buildJSONResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
