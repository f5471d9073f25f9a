package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"browsermcp/internal/infra/logging"
	"browsermcp/internal/infra/sessionstore"
)

// Health reports liveness together with session and browser counters.
func (h *Handlers) Health(c *fiber.Ctx) error {
	body := fiber.Map{
		"status":          "healthy",
		"server":          h.Config.Server.Name,
		"version":         h.Version,
		"transport":       "sse",
		"uptime_seconds":  int64(time.Since(h.Started).Seconds()),
		"active_sessions": h.Sessions.Count(),
	}
	if h.Browser != nil {
		body["browser"] = h.Browser.Stats()
	}
	return c.JSON(body)
}

// ListSessions returns stored session metadata and the open browser tabs.
func (h *Handlers) ListSessions(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	list := []sessionstore.Metadata{}
	if h.Store != nil {
		stored, err := h.Store.List(ctx)
		if err != nil {
			logging.Warn("session store list failed", "error", err)
			return fiber.NewError(fiber.StatusServiceUnavailable, "session store unavailable")
		}
		list = stored
	}
	body := fiber.Map{
		"count":    len(list),
		"sessions": list,
	}
	if h.Browser != nil {
		body["browser_sessions"] = h.Browser.Sessions()
	}
	return c.JSON(body)
}

func (h *Handlers) BrowserStats(c *fiber.Ctx) error {
	if h.Browser == nil {
		return c.JSON(fiber.Map{"enabled": false})
	}
	return c.JSON(h.Browser.Stats())
}
