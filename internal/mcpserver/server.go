// Package mcpserver exposes the supervisor as MCP tools over stdio so
// assistants can inspect and drive bridge sessions themselves.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sploithunter/coding-agent-bridge/internal/bridge"
)

// Serve blocks, serving the MCP protocol on stdin/stdout.
func Serve(sup *bridge.Supervisor, version string) error {
	s := server.NewMCPServer("coding-agent-bridge", version,
		server.WithToolCapabilities(false),
	)

	listTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List supervised coding-agent sessions."),
		mcp.WithString("agent", mcp.Description("Only sessions for this agent (e.g. claude, codex).")),
		mcp.WithString("status", mcp.Description("Only sessions with this status (working, idle, offline).")),
	)
	s.AddTool(listTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions := sup.List(bridge.Filter{
			Agent:  req.GetString("agent", ""),
			Status: bridge.Status(req.GetString("status", "")),
		})
		data, err := json.Marshal(sessions)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})

	promptTool := mcp.NewTool("send_prompt",
		mcp.WithDescription("Paste a prompt into a session's terminal."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Bridge session id.")),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Text to send.")),
	)
	s.AddTool(promptTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := sup.SendPrompt(id, prompt); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("prompt sent"), nil
	})

	captureTool := mcp.NewTool("capture_pane",
		mcp.WithDescription("Capture recent terminal output from an internal session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Bridge session id.")),
		mcp.WithNumber("lines", mcp.Description("Scrollback lines to include (default 100).")),
	)
	s.AddTool(captureTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := sup.CapturePane(id, req.GetInt("lines", 100))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	})

	return server.ServeStdio(s)
}
