// Package middleware holds the fiber middleware of the HTTP API.
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// TokenAuth rejects requests that do not carry the shared API token, either
// as "Authorization: Bearer <token>" or as ?token= (EventSource clients
// cannot set headers). An empty token disables the check.
func TokenAuth(token string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}

		var got string
		if auth := c.Get("Authorization"); auth != "" {
			scheme, value, ok := strings.Cut(auth, " ")
			if ok && strings.EqualFold(scheme, "bearer") {
				got = strings.TrimSpace(value)
			}
		}
		if got == "" {
			got = c.Query("token")
		}

		if got == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization",
			})
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}
		return c.Next()
	}
}
