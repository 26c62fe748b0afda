package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sellergrid/stealthfetch/internal/fetch"
)

func registerTools(s *server.MCPServer, fetcher *fetch.Fetcher) {
	// fetch_page
	fetchTool := mcp.NewTool("fetch_page",
		mcp.WithDescription("Fetch a page through the anti-bot stealth pipeline (identity/proxy rotation, pacing, block-aware retry)"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Page URL to fetch"),
		),
		mcp.WithNumber("max_attempts",
			mcp.Description("Attempt budget override (default: configured RETRY_TIMES)"),
		),
		mcp.WithBoolean("render",
			mcp.Description("Fall back to a headless browser if all HTTP attempts are blocked"),
		),
	)
	s.AddTool(fetchTool, handleFetchPage(fetcher))

	// pool_status
	statusTool := mcp.NewTool("pool_status",
		mcp.WithDescription("Report identity catalog size and configured proxy endpoints (credentials redacted)"),
	)
	s.AddTool(statusTool, handlePoolStatus(fetcher))
}

func handleFetchPage(fetcher *fetch.Fetcher) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url := request.GetString("url", "")
		if url == "" {
			return mcp.NewToolResultError("url is required"), nil
		}

		opts := fetch.Options{
			MaxAttempts: request.GetInt("max_attempts", 0),
			Render:      request.GetBool("render", false),
		}

		body, meta, err := fetcher.Fetch(ctx, url, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("fetch error (attempts=%d, reason=%s): %v", meta.Attempts, meta.Reason, err)), nil
		}

		header, _ := json.Marshal(meta)
		return mcp.NewToolResultText(string(header) + "\n" + string(body)), nil
	}
}

func handlePoolStatus(fetcher *fetch.Fetcher) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pool := fetcher.ProxyPool()
		status := struct {
			Identities int      `json:"identities"`
			Proxies    []string `json:"proxies"`
		}{
			Identities: fetcher.IdentityCount(),
		}
		for _, e := range pool.Endpoints() {
			status.Proxies = append(status.Proxies, e.Redacted())
		}

		data, _ := json.MarshalIndent(status, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	}
}
