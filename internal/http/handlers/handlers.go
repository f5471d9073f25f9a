// Package handlers implements the HTTP endpoints of the MCP server.
package handlers

import (
	"context"
	"time"

	"browsermcp/internal/config"
	"browsermcp/internal/infra/chrome"
	"browsermcp/internal/infra/sessionstore"
	"browsermcp/internal/mcp"
	"browsermcp/internal/transport/sse"
)

// Browser is the part of the browser manager the HTTP layer needs.
type Browser interface {
	Stats() chrome.Stats
	Sessions() []chrome.TabInfo
	Touch(sessionID string)
}

type Handlers struct {
	Config   config.Config
	Sessions *sse.Registry
	MCP      *mcp.Server
	Store    sessionstore.Store
	Browser  Browser
	Version  string
	Started  time.Time

	// BaseCtx bounds asynchronous message dispatch. It ends on shutdown.
	BaseCtx context.Context
}

func (h *Handlers) baseCtx() context.Context {
	if h.BaseCtx == nil {
		return context.Background()
	}
	return h.BaseCtx
}
