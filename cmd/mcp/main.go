// Sovereign MCP Server - exposes review and audit operations as MCP tools for operators
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/sovereign/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:      envOrDefault("SOVEREIGN_API_URL", "http://localhost:8080"),
		AdminSecret: os.Getenv("SOVEREIGN_ADMIN_SECRET"),
		Operator:    envOrDefault("SOVEREIGN_OPERATOR", "mcp"),
	}

	if cfg.AdminSecret == "" {
		fmt.Fprintln(os.Stderr, "warning: SOVEREIGN_ADMIN_SECRET is empty; requests will fail unless the API runs without ADMIN_SECRET")
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
