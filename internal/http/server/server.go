package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"browsermcp/internal/config"
	"browsermcp/internal/domain"
	"browsermcp/internal/http/handlers"
	"browsermcp/internal/http/middleware"
	"browsermcp/internal/infra/logging"
	"browsermcp/internal/infra/ratelimit"
	"browsermcp/internal/infra/sessionstore"
	"browsermcp/internal/mcp"
	"browsermcp/internal/tokens"
	"browsermcp/internal/transport/sse"
)

// Browser is what the server needs from the browser manager.
type Browser interface {
	handlers.Browser
	CloseTab(sessionID string) error
}

type Deps struct {
	Config   config.Config
	Sessions *sse.Registry
	MCP      *mcp.Server
	Store    sessionstore.Store
	Browser  Browser
	// Tokens enables API key checks when non-nil.
	Tokens  *tokens.Cache
	Version string
	BaseCtx context.Context
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}

	logging.Warn("request failed", "path", c.Path(), "status", code, "message", msg)

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}

// New builds the fiber app with middleware, routes and session hooks.
func New(d Deps) *fiber.App {
	if d.Store == nil {
		d.Store = sessionstore.NewMemoryStore()
	}
	wireSessionHooks(d)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app)

	rl := middleware.RateLimitConfig{
		RateInterval:           d.Config.RateLimiter.Interval,
		EnableTokenRateLimiter: d.Config.RateLimiter.EnableTokenLimiter,
		EnableUserLimiter:      d.Config.RateLimiter.EnableUserLimiter,
		UserLimit:              d.Config.RateLimiter.UserLimit,
	}
	if d.Tokens != nil || rl.EnableUserLimiter {
		store := ratelimit.NewStore(ratelimit.RedisConfig{
			Addr: d.Config.Cache.RedisHost,
			DB:   d.Config.Cache.RateLimitDB,
		})
		if d.Tokens != nil {
			app.Use(middleware.Auth(d.Tokens, d.Config.Auth.Required))
			app.Use(middleware.TokenRateLimit(rl, d.Tokens, store, middleware.NewLimiterCache()))
		}
		app.Use(middleware.UserRateLimit(rl, store))
	}

	h := &handlers.Handlers{
		Config:   d.Config,
		Sessions: d.Sessions,
		MCP:      d.MCP,
		Store:    d.Store,
		Version:  d.Version,
		Started:  time.Now(),
		BaseCtx:  d.BaseCtx,
	}
	if d.Browser != nil {
		h.Browser = d.Browser
	}

	app.Get("/health", h.Health)
	app.Get("/sse", h.SSE)
	app.Post(sse.MessagesPath, h.Messages)

	v1 := app.Group("/v1")
	v1.Get("/sessions", h.ListSessions)
	v1.Get("/browser/stats", h.BrowserStats)
	v1.Get("/monitor", monitor.New())

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})
	return app
}

// wireSessionHooks mirrors transport sessions into the store and releases
// the browser tab when a stream ends.
func wireSessionHooks(d Deps) {
	d.Sessions.OnOpen(func(s *sse.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		md := sessionstore.Metadata{ID: s.ID, RemoteAddr: s.RemoteAddr, CreatedAt: s.CreatedAt, LastActivity: s.LastActivity()}
		if err := d.Store.Save(ctx, md); err != nil {
			logging.Warn("session store save failed", "session_id", s.ID, "error", err)
		}
	})
	// Keepalives renew the store entry so an idle but connected stream
	// outlives the store TTL.
	d.Sessions.OnKeepalive(func(s *sse.Session) {
		if s.Closed() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		md := sessionstore.Metadata{ID: s.ID, RemoteAddr: s.RemoteAddr, CreatedAt: s.CreatedAt, LastActivity: s.LastActivity()}
		if err := d.Store.Save(ctx, md); err != nil {
			logging.Debug("session store refresh failed", "session_id", s.ID, "error", err)
			return
		}
		// closed while saving: the close hook may already have run
		if s.Closed() {
			_ = d.Store.Delete(ctx, s.ID)
		}
	})
	d.Sessions.OnClose(func(s *sse.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := d.Store.Delete(ctx, s.ID); err != nil {
			logging.Warn("session store delete failed", "session_id", s.ID, "error", err)
		}
		if d.Browser != nil {
			if err := d.Browser.CloseTab(s.ID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
				logging.Warn("closing browser tab failed", "session_id", s.ID, "error", err)
			}
		}
	})
}
