// Package middleware holds the global fiber middleware of the MCP server.
package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"browsermcp/internal/infra/logging"
)

// Exempt reports paths that bypass auth and rate limiting.
func Exempt(c *fiber.Ctx) bool {
	switch c.Path() {
	case "/health", healthcheck.DefaultLivenessEndpoint, healthcheck.DefaultReadinessEndpoint:
		return true
	}
	return c.Method() == fiber.MethodOptions
}

// Register attaches CORS, request ids, liveness probes and request logging.
func Register(app *fiber.App) {
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,PUT,PATCH,DELETE,OPTIONS,HEAD",
		AllowHeaders:  "*",
		ExposeHeaders: "X-Request-Id",
	}))

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New())

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}
