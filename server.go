package recommend

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
)

const Version = "1.0.0"

// Tools lists every MCP tool served for client.
func Tools(client *RecommendClient) []server.ServerTool {
	return []server.ServerTool{
		// Conversation
		{
			Tool:    mcp.NewToolWithRawSchema("recommend", "Recommend products for a free-text request, keeping filters and history across turns of a session", GetRecommendSchema()),
			Handler: HandleRecommend(client),
		},
		{
			Tool:    mcp.NewToolWithRawSchema("reject-product", "Exclude a product from the session's future recommendations", GetRejectProductSchema()),
			Handler: HandleRejectProduct(client),
		},
		// Session management
		{
			Tool:    mcp.NewToolWithRawSchema("reset-session", "Clear a session's history, filters and rejected products", GetSessionIDSchema()),
			Handler: HandleResetSession(client),
		},
		{
			Tool:    mcp.NewToolWithRawSchema("get-session", "Show a session's history, accumulated filters and rejected products", GetSessionIDSchema()),
			Handler: HandleGetSession(client),
		},
		{
			Tool:    mcp.NewToolWithRawSchema("list-sessions", "List sessions, most recently active first", GetListSessionsSchema()),
			Handler: HandleListSessions(client),
		},
		{
			Tool:    mcp.NewToolWithRawSchema("delete-session", "Delete a session", GetSessionIDSchema()),
			Handler: HandleDeleteSession(client),
		},
		// Catalog
		{
			Tool:    mcp.NewToolWithRawSchema("translate-filters", "Show how a filter set is rendered for each retrieval backend", GetTranslateFiltersSchema()),
			Handler: HandleTranslateFilters(client),
		},
		{
			Tool:    mcp.NewToolWithRawSchema("index-products", "Embed and upsert products into the vector store", GetIndexProductsSchema()),
			Handler: HandleIndexProducts(client),
		},
	}
}

// NewServer builds the MCP server exposing client's tools.
func NewServer(cfg *config.Config, client *RecommendClient) *server.MCPServer {
	name, version := cfg.Server.Name, cfg.Server.Version
	if name == "" {
		name = "recommend-mcp-server"
	}
	if version == "" {
		version = Version
	}
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithInstructions("This is a conversational product recommendation server: describe what you need, refine it over several turns, and reject products you do not want"),
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	mcpServer.AddTools(Tools(client)...)
	return mcpServer
}
