package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	wardenmcp "github.com/ppiankov/rpcwarden/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs an MCP (Model Context Protocol) server over stdio. Tools proxy to\n" +
		"the management API at --addr: calls, call, approve, stats, account.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	srv := wardenmcp.New(apiClient(), version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "rpcwarden MCP server running on stdio")
	return srv.Run(ctx)
}
