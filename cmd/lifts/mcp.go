// ABOUTME: CLI command for starting MCP server.
// ABOUTME: Runs stdio-based MCP server for AI assistant integration.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harperreed/lifts/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server",
	Long: `Start the Model Context Protocol (MCP) server for AI assistant integration.

The server communicates via stdin/stdout. Logs go to the log file only.

CLAUDE DESKTOP CONFIGURATION:

  {
    "mcpServers": {
      "lifts": {
        "command": "lifts",
        "args": ["mcp"]
      }
    }
  }

AVAILABLE TOOLS:

  list_sessions    List recent sessions
  get_session      Get a session with exercises and sets
  log_exercise     Log an exercise into a day's session
  delete_session   Delete a session (soft by default)
  sync_now         Sync with the cloud

AVAILABLE RESOURCES:

  lifts://recent   Last 5 sessions
  lifts://today    Today's sessions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []mcp.Option{mcp.WithLogger(logger)}
		if engine != nil {
			opts = append(opts, mcp.WithSyncer(engine))
		}
		server, err := mcp.NewServer(repo, opts...)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		return server.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
