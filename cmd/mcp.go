package cmd

import (
	"github.com/huangsam/devyear/internal/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the devyear MCP server",
	Long: `Launch an MCP server over stdio that lets AI agents read run status,
ranked work units and yearly reports through standard tools.

Runs are not executed by this server; use 'devyear serve' or 'devyear run' for that.`,
	// Logs go to stderr, so stdio stays clean for the protocol.
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, _ []string) error {
		return mcp.StartMCPServer(rootCtx, orch, version)
	},
}
