package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// NewMCPServer creates a configured MCP server with all operator tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("sovereign", Version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolListPendingReviews, h.HandleListPendingReviews)
	s.AddTool(ToolProcessReview, h.HandleProcessReview)
	s.AddTool(ToolArchiveReviews, h.HandleArchiveReviews)
	s.AddTool(ToolQueryAuditLogs, h.HandleQueryAuditLogs)
	s.AddTool(ToolEvaluateOperation, h.HandleEvaluateOperation)
	s.AddTool(ToolListNotifications, h.HandleListNotifications)

	return s
}
