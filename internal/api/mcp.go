package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dishdex/internal/catalog"
)

const recentDishesLimit = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Catalog *catalog.Service
	Version string
}

// NewMCPServer creates an MCP server with the dish tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"dishdex",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dishdex: a searchable catalog of photographed dishes with AI descriptions and pairing suggestions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_dishes",
			mcp.WithDescription("Full-text search over dish names, descriptions, types and pairing suggestions. A blank query lists the newest dishes."),
			mcp.WithString("query", mcp.Description("Free-text search query")),
			mcp.WithNumber("owner_id", mcp.Description("Only dishes of this owner")),
			mcp.WithBoolean("favorites_only", mcp.Description("Only favorite dishes")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20, max 100)")),
		),
		mcpSearchDishes(deps),
	)

	s.AddTool(
		mcp.NewTool("get_dish",
			mcp.WithDescription("Return one dish with its description and pairing suggestions."),
			mcp.WithNumber("id", mcp.Description("Dish id"), mcp.Required()),
		),
		mcpGetDish(deps),
	)

	s.AddTool(
		mcp.NewTool("rebuild_search_index",
			mcp.WithDescription("Recreate the search index from the stored dishes."),
		),
		mcpRebuildIndex(deps),
	)

	s.AddTool(
		mcp.NewTool("refresh_profiles",
			mcp.WithDescription("Queue a regeneration of eating profiles, for one owner or for all."),
			mcp.WithNumber("owner_id", mcp.Description("Owner to refresh; omit for every owner")),
		),
		mcpRefreshProfiles(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dishes://recent",
			"Recent Dishes",
			mcp.WithResourceDescription(fmt.Sprintf("The %d most recently added dishes", recentDishesLimit)),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSearchDishes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scope := catalog.Scope{
			OwnerID:       int64(req.GetInt("owner_id", 0)),
			FavoritesOnly: req.GetBool("favorites_only", false),
		}
		results, err := deps.Catalog.SearchDishes(ctx, scope, req.GetString("query", ""), req.GetInt("limit", 0))
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(resultViews(results))
	}
}

func mcpGetDish(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("id")
		if err != nil || id <= 0 {
			return mcpError("id is required"), nil
		}
		d, err := deps.Catalog.GetDish(int64(id))
		if errors.Is(err, catalog.ErrNotFound) {
			return mcpError(fmt.Sprintf("dish %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get dish: %v", err)), nil
		}
		return mcpJSON(dishView(d))
	}
}

func mcpRebuildIndex(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := deps.Catalog.RebuildIndex(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("rebuild failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Indexed %d dishes", n)), nil
	}
}

func mcpRefreshProfiles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ownerID := int64(req.GetInt("owner_id", 0))
		jobID, err := deps.Catalog.RunProfileAggregation(ownerID)
		if errors.Is(err, catalog.ErrNotFound) {
			return mcpError(fmt.Sprintf("owner %d not found", ownerID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue refresh: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued profile refresh job %s", jobID)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dishes, err := deps.Catalog.ListDishes(catalog.Scope{}, recentDishesLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent dishes: %w", err)
		}
		b, err := json.Marshal(dishViews(dishes))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal dishes: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
