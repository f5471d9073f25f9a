package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	neturl "net/url"
	"strings"

	"browsermcp/internal/domain"
	"browsermcp/internal/infra/chrome"
	"browsermcp/internal/mcp"
)

const (
	defaultExtractLength = 20000
	truncatedMarker      = "\n...[truncated]"
)

func validateURL(raw string) error {
	if raw == "" {
		return mcp.InvalidParams("url is required")
	}
	if u, err := neturl.Parse(raw); err == nil && u.Scheme == "about" && u.Opaque != "" {
		return nil
	}
	u, err := neturl.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return mcp.InvalidParams("url must be an http, https or about: URL")
	}
	return nil
}

func navigateTool(d Driver) *tool {
	return &tool{
		name: "browser_navigate",
		desc: "Navigate the session's browser tab to a URL.",
		schema: objectSchema([]string{"url"}, map[string]any{
			"url":     str("http(s) URL to open"),
			"new_tab": map[string]any{"type": "boolean", "description": "start from a fresh tab"},
		}),
		call: func(ctx context.Context, cc mcp.CallContext, args json.RawMessage) (mcp.ToolResult, error) {
			var p struct {
				URL    string `json:"url"`
				NewTab bool   `json:"new_tab"`
			}
			if err := decode(args, &p); err != nil {
				return mcp.ToolResult{}, err
			}
			if err := validateURL(p.URL); err != nil {
				return mcp.ToolResult{}, err
			}
			if p.NewTab {
				if err := d.CloseTab(cc.SessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
					return mcp.ToolResult{}, err
				}
			}
			info, err := withRetry(ctx, d, cc.SessionID, "browser_navigate", func() (chrome.PageInfo, error) {
				return d.Navigate(ctx, cc.SessionID, p.URL)
			})
			if err != nil {
				return mcp.ToolResult{}, err
			}
			return mcp.TextResult(fmt.Sprintf("Navigated to %s (%s)", info.URL, info.Title)), nil
		},
	}
}

func clickTool(d Driver) *tool {
	return &tool{
		name:   "browser_click",
		desc:   "Click the first element matching a CSS selector.",
		schema: objectSchema([]string{"selector"}, map[string]any{"selector": str("CSS selector")}),
		call: func(ctx context.Context, cc mcp.CallContext, args json.RawMessage) (mcp.ToolResult, error) {
			var p struct {
				Selector string `json:"selector"`
			}
			if err := decode(args, &p); err != nil {
				return mcp.ToolResult{}, err
			}
			if p.Selector == "" {
				return mcp.ToolResult{}, mcp.InvalidParams("selector is required")
			}
			err := withRetryErr(ctx, d, cc.SessionID, "browser_click", func() error {
				return d.Click(ctx, cc.SessionID, p.Selector)
			})
			if err != nil {
				return mcp.ToolResult{}, err
			}
			return mcp.TextResult("Clicked " + p.Selector), nil
		},
	}
}

func typeTool(d Driver) *tool {
	return &tool{
		name: "browser_type",
		desc: "Replace the value of an input element with the given text.",
		schema: objectSchema([]string{"selector", "text"}, map[string]any{
			"selector": str("CSS selector of the input"),
			"text":     str("text to type"),
		}),
		call: func(ctx context.Context, cc mcp.CallContext, args json.RawMessage) (mcp.ToolResult, error) {
			var p struct {
				Selector string `json:"selector"`
				Text     string `json:"text"`
			}
			if err := decode(args, &p); err != nil {
				return mcp.ToolResult{}, err
			}
			if p.Selector == "" {
				return mcp.ToolResult{}, mcp.InvalidParams("selector is required")
			}
			err := withRetryErr(ctx, d, cc.SessionID, "browser_type", func() error {
				return d.Type(ctx, cc.SessionID, p.Selector, p.Text)
			})
			if err != nil {
				return mcp.ToolResult{}, err
			}
			return mcp.TextResult(fmt.Sprintf("Typed %d characters into %s", len([]rune(p.Text)), p.Selector)), nil
		},
	}
}

func stateTool(d Driver) *tool {
	return &tool{
		name:   "browser_get_state",
		desc:   "Return the current URL, title and interactive elements of the page.",
		schema: objectSchema(nil, map[string]any{}),
		call: func(ctx context.Context, cc mcp.CallContext, _ json.RawMessage) (mcp.ToolResult, error) {
			st, err := withRetry(ctx, d, cc.SessionID, "browser_get_state", func() (chrome.PageState, error) {
				return d.State(ctx, cc.SessionID)
			})
			if err != nil {
				return mcp.ToolResult{}, err
			}
			if len(st.Elements) > chrome.MaxStateElements {
				st.Elements = st.Elements[:chrome.MaxStateElements]
			}
			return jsonResult(st)
		},
	}
}

func extractTool(d Driver) *tool {
	return &tool{
		name: "browser_extract_content",
		desc: "Return the visible text of the page or of one element.",
		schema: objectSchema(nil, map[string]any{
			"selector":   str("optional CSS selector, defaults to the whole page"),
			"max_length": map[string]any{"type": "integer", "description": "maximum characters returned"},
		}),
		call: func(ctx context.Context, cc mcp.CallContext, args json.RawMessage) (mcp.ToolResult, error) {
			var p struct {
				Selector  string `json:"selector"`
				MaxLength int    `json:"max_length"`
			}
			if err := decode(args, &p); err != nil {
				return mcp.ToolResult{}, err
			}
			if p.MaxLength < 0 {
				return mcp.ToolResult{}, mcp.InvalidParams("max_length must not be negative")
			}
			if p.MaxLength == 0 {
				p.MaxLength = defaultExtractLength
			}
			text, err := withRetry(ctx, d, cc.SessionID, "browser_extract_content", func() (string, error) {
				return d.Extract(ctx, cc.SessionID, p.Selector)
			})
			if err != nil {
				return mcp.ToolResult{}, err
			}
			return mcp.TextResult(truncate(strings.TrimSpace(text), p.MaxLength)), nil
		},
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + truncatedMarker
}

func scrollTool(d Driver) *tool {
	return &tool{
		name: "browser_scroll",
		desc: "Scroll the page up or down by most of a viewport.",
		schema: objectSchema([]string{"direction"}, map[string]any{
			"direction": map[string]any{"type": "string", "enum": []string{"up", "down"}},
		}),
		call: func(ctx context.Context, cc mcp.CallContext, args json.RawMessage) (mcp.ToolResult, error) {
			var p struct {
				Direction string `json:"direction"`
			}
			if err := decode(args, &p); err != nil {
				return mcp.ToolResult{}, err
			}
			if p.Direction == "" {
				p.Direction = "down"
			}
			if p.Direction != "up" && p.Direction != "down" {
				return mcp.ToolResult{}, mcp.InvalidParams("direction must be 'up' or 'down'")
			}
			err := withRetryErr(ctx, d, cc.SessionID, "browser_scroll", func() error {
				return d.Scroll(ctx, cc.SessionID, p.Direction)
			})
			if err != nil {
				return mcp.ToolResult{}, err
			}
			return mcp.TextResult("Scrolled " + p.Direction), nil
		},
	}
}

func goBackTool(d Driver) *tool {
	return &tool{
		name:   "browser_go_back",
		desc:   "Go back to the previous page in history.",
		schema: objectSchema(nil, map[string]any{}),
		call: func(ctx context.Context, cc mcp.CallContext, _ json.RawMessage) (mcp.ToolResult, error) {
			info, err := withRetry(ctx, d, cc.SessionID, "browser_go_back", func() (chrome.PageInfo, error) {
				return d.GoBack(ctx, cc.SessionID)
			})
			if err != nil {
				return mcp.ToolResult{}, err
			}
			return mcp.TextResult(fmt.Sprintf("Went back to %s (%s)", info.URL, info.Title)), nil
		},
	}
}
