// Package mcp exposes the management API as MCP tools over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/rpcwarden/internal/api"
	"github.com/ppiankov/rpcwarden/internal/model"
)

// API is the subset of the management client the tools call.
type API interface {
	Calls(ctx context.Context, limit int) ([]model.Call, error)
	Call(ctx context.Context, id string) (*model.Call, error)
	Approve(ctx context.Context, id string) (*model.Call, error)
	Account(ctx context.Context, id string) (*api.Account, error)
	Stats(ctx context.Context) (*api.Stats, error)
}

// Server wraps the MCP SDK server.
type Server struct {
	mcpServer *mcpsdk.Server
	api       API
}

// New creates an MCP server whose tools proxy to api.
func New(api API, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{api: api}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "rpcwarden",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all rpcwarden tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "rpcwarden_calls",
		Description: "List recent JSON-RPC calls seen by the gateway, newest first, with status and risk level.",
	}, s.handleCalls)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "rpcwarden_call",
		Description: "Show one call in detail: request, risk verdict, reputation verdict, decision, and response.",
	}, s.handleCall)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "rpcwarden_approve",
		Description: "Approve a call held for manual review. The call is forwarded upstream and its final status returned.",
	}, s.handleApprove)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "rpcwarden_stats",
		Description: "Show ledger totals and call history counts.",
	}, s.handleStats)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "rpcwarden_account",
		Description: "Look up an account's trust score, tier, counters, and token balance.",
	}, s.handleAccount)
}
