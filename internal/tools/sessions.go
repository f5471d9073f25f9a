package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"browsermcp/internal/mcp"
)

func listSessionsTool(d Driver) *tool {
	return &tool{
		name:   "list_browser_sessions",
		desc:   "List the open browser sessions.",
		schema: objectSchema(nil, map[string]any{}),
		call: func(_ context.Context, _ mcp.CallContext, _ json.RawMessage) (mcp.ToolResult, error) {
			list := d.Sessions()
			return jsonResult(map[string]any{"count": len(list), "sessions": list})
		},
	}
}

func closeSessionTool(d Driver) *tool {
	return &tool{
		name:   "close_browser_session",
		desc:   "Close one browser session by id.",
		schema: objectSchema([]string{"session_id"}, map[string]any{"session_id": str("session to close")}),
		call: func(_ context.Context, _ mcp.CallContext, args json.RawMessage) (mcp.ToolResult, error) {
			var p struct {
				SessionID string `json:"session_id"`
			}
			if err := decode(args, &p); err != nil {
				return mcp.ToolResult{}, err
			}
			if p.SessionID == "" {
				return mcp.ToolResult{}, mcp.InvalidParams("session_id is required")
			}
			if err := d.CloseTab(p.SessionID); err != nil {
				return mcp.ToolResult{}, fmt.Errorf("browser session %s: %w", p.SessionID, err)
			}
			return mcp.TextResult("Closed browser session " + p.SessionID), nil
		},
	}
}

func closeAllSessionsTool(d Driver) *tool {
	return &tool{
		name:   "close_all_browser_sessions",
		desc:   "Close every open browser session.",
		schema: objectSchema(nil, map[string]any{}),
		call: func(_ context.Context, _ mcp.CallContext, _ json.RawMessage) (mcp.ToolResult, error) {
			n := d.CloseAll()
			return mcp.TextResult(fmt.Sprintf("Closed %d browser sessions", n)), nil
		},
	}
}
