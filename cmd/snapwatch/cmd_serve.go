package main

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"snapwatch/internal/logging"
	mcpserver "snapwatch/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve snapshot health as MCP tools over stdio",
	Long: "Starts an MCP server on stdin/stdout exposing read-only tools for\n" +
		"snapshot health, failure classification and campaign status. Meant to\n" +
		"be launched by an MCP client; the server exits with its parent.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	r, _, err := buildRunner()
	if err != nil {
		return err
	}
	srv := mcpserver.NewServer(r, version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	mcpserver.WatchParent(ctx, 0, cancel)

	logging.New("mcp").Info("Starting MCP server over stdio")
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
