package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"

	"browsermcp/internal/domain"
)

const (
	APIKeyHeader = "X-API-Key"
	// LocalsAPIKey is where an authenticated key is stored on the request.
	LocalsAPIKey = "api_key"
)

// TokenValidator answers whether an API key is known.
type TokenValidator interface {
	Ready() bool
	Valid(token string) bool
}

func jsonError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    status,
			"message": msg,
		},
	})
}

// Auth checks X-API-Key against the token cache. Without required, requests
// that send no key pass anonymously; a key that is sent must be valid. While
// the cache has not loaded, checked requests get 503 whether or not they
// carry a key.
func Auth(v TokenValidator, required bool) fiber.Handler {
	skip := func(c *fiber.Ctx) bool {
		if Exempt(c) {
			return true
		}
		return !required && c.Get(APIKeyHeader) == ""
	}
	check := keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + APIKeyHeader,
		ContextKey: LocalsAPIKey,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if !v.Ready() {
				return false, domain.ErrTokenStoreNotReady
			}
			if !v.Valid(key) {
				return false, domain.ErrInvalidAPIKey
			}
			return true, nil
		},
		Next: skip,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may call this with a nil error
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, domain.ErrTokenStoreNotReady) {
				return jsonError(c, fiber.StatusServiceUnavailable, err.Error())
			}
			if errors.Is(err, keyauth.ErrMissingOrMalformedAPIKey) {
				return jsonError(c, fiber.StatusUnauthorized, "missing api key")
			}
			return jsonError(c, fiber.StatusUnauthorized, err.Error())
		},
	})
	return func(c *fiber.Ctx) error {
		if !skip(c) && !v.Ready() {
			return jsonError(c, fiber.StatusServiceUnavailable, domain.ErrTokenStoreNotReady.Error())
		}
		return check(c)
	}
}
