// Package tools exposes browser automation to MCP clients. Every tool runs
// in the browser tab that belongs to the calling session.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"browsermcp/internal/infra/chrome"
	"browsermcp/internal/infra/logging"
	"browsermcp/internal/mcp"
)

// Driver is the browser backend. *chrome.Manager implements it.
type Driver interface {
	Navigate(ctx context.Context, sessionID, url string) (chrome.PageInfo, error)
	Click(ctx context.Context, sessionID, selector string) error
	Type(ctx context.Context, sessionID, selector, text string) error
	State(ctx context.Context, sessionID string) (chrome.PageState, error)
	Extract(ctx context.Context, sessionID, selector string) (string, error)
	Scroll(ctx context.Context, sessionID, direction string) error
	GoBack(ctx context.Context, sessionID string) (chrome.PageInfo, error)
	Screenshot(ctx context.Context, sessionID string) ([]byte, error)
	PDF(ctx context.Context, sessionID string) ([]byte, error)
	Sessions() []chrome.TabInfo
	CloseTab(sessionID string) error
	CloseAll() int
	Recover(sessionID string) error
}

type callFunc func(ctx context.Context, cc mcp.CallContext, args json.RawMessage) (mcp.ToolResult, error)

type tool struct {
	name   string
	desc   string
	schema map[string]any
	call   callFunc
}

func (t *tool) Name() string                { return t.name }
func (t *tool) Description() string         { return t.desc }
func (t *tool) InputSchema() map[string]any { return t.schema }
func (t *tool) Call(ctx context.Context, cc mcp.CallContext, args json.RawMessage) (mcp.ToolResult, error) {
	return t.call(ctx, cc, args)
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return mcp.InvalidParams(err.Error())
	}
	return nil
}

func jsonResult(v any) (mcp.ToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.ToolResult{}, err
	}
	return mcp.TextResult(string(b)), nil
}

// withRetry runs fn and, when the browser session was interrupted, recovers
// the session and runs fn one more time.
func withRetry[T any](ctx context.Context, d Driver, sessionID, op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !chrome.IsSessionInterrupted(err) || ctx.Err() != nil {
		return v, err
	}
	logging.Warn("browser session interrupted; recovering and retrying once",
		"session_id", sessionID, "tool", op, "error", err)
	if rerr := d.Recover(sessionID); rerr != nil {
		return v, fmt.Errorf("%w (recover failed: %v)", err, rerr)
	}
	return fn()
}

func withRetryErr(ctx context.Context, d Driver, sessionID, op string, fn func() error) error {
	_, err := withRetry(ctx, d, sessionID, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Register adds the browser tool set to reg.
func Register(reg *mcp.Registry, d Driver, downloadsDir string) error {
	all := []*tool{
		navigateTool(d),
		clickTool(d),
		typeTool(d),
		stateTool(d),
		extractTool(d),
		scrollTool(d),
		goBackTool(d),
		screenshotTool(d, downloadsDir),
		savePDFTool(d, downloadsDir),
		listSessionsTool(d),
		closeSessionTool(d),
		closeAllSessionsTool(d),
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
