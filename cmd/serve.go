package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	mcpserver "github.com/sellergrid/stealthfetch/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP stdio server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	fetcher := buildFetcher()

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting stealthfetch MCP server on stdio...")

	if err := mcpserver.Serve(fetcher); err != nil {
		return fmt.Errorf("MCP server: %w", err)
	}
	return nil
}
