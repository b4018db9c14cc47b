package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolFunc handles a tool call with decoded arguments.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error)

// Server wraps the mcp-go server to publish local tools.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
	}
}

// AddTool registers a tool with the server.
func (s *Server) AddTool(tool mcp.Tool, handler ToolFunc) {
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handler(ctx, request.GetArguments())
	})
}

// MCPServer exposes the underlying server for transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}
