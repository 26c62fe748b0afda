package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/sellergrid/stealthfetch/internal/fetch"
)

// Serve starts the MCP stdio server with all tools registered against the
// given fetcher.
func Serve(fetcher *fetch.Fetcher) error {
	s := server.NewMCPServer(
		"stealthfetch",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	registerTools(s, fetcher)

	return server.ServeStdio(s)
}
