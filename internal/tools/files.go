package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"browsermcp/internal/mcp"
)

var filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// outputPath validates a user supplied filename, or builds a timestamped one,
// and joins it onto dir.
func outputPath(dir, filename, prefix, ext string, now time.Time) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("%s-%s%s", prefix, now.UTC().Format("20060102-150405.000"), ext)
	}
	if !strings.HasSuffix(filename, ext) {
		return "", mcp.InvalidParams("filename must end with " + ext)
	}
	if !filenamePattern.MatchString(filename) || strings.HasPrefix(filename, ".") {
		return "", mcp.InvalidParams("filename contains invalid characters")
	}
	return filepath.Join(dir, filename), nil
}

type captureFunc func(ctx context.Context, sessionID string) ([]byte, error)

func captureTool(d Driver, dir, name, desc, prefix, ext string, capture captureFunc) *tool {
	return &tool{
		name: name,
		desc: desc,
		schema: objectSchema(nil, map[string]any{
			"filename": str("optional file name ending in " + ext),
		}),
		call: func(ctx context.Context, cc mcp.CallContext, args json.RawMessage) (mcp.ToolResult, error) {
			var p struct {
				Filename string `json:"filename"`
			}
			if err := decode(args, &p); err != nil {
				return mcp.ToolResult{}, err
			}
			path, err := outputPath(dir, p.Filename, prefix, ext, time.Now())
			if err != nil {
				return mcp.ToolResult{}, err
			}
			data, err := withRetry(ctx, d, cc.SessionID, name, func() ([]byte, error) {
				return capture(ctx, cc.SessionID)
			})
			if err != nil {
				return mcp.ToolResult{}, err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return mcp.ToolResult{}, fmt.Errorf("write %s: %w", path, err)
			}
			return mcp.TextResult(fmt.Sprintf("Saved %d bytes to %s", len(data), path)), nil
		},
	}
}

func screenshotTool(d Driver, dir string) *tool {
	return captureTool(d, dir, "browser_screenshot",
		"Capture a PNG screenshot of the viewport into the downloads directory.",
		"screenshot", ".png", d.Screenshot)
}

func savePDFTool(d Driver, dir string) *tool {
	return captureTool(d, dir, "browser_save_pdf",
		"Print the current page to a PDF in the downloads directory.",
		"page", ".pdf", d.PDF)
}
