package middleware

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-sorrydb/internal/metrics"
)

// AuditMiddleware counts every request by route and status, and logs the
// ones that change state (anything but GET, HEAD and OPTIONS).
func AuditMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Fiber reuses context objects, so copy request data before Next.
		method := c.Method()
		path := c.Path()
		ip := c.IP()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		metrics.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()

		switch method {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
		default:
			slog.Info("audit",
				"method", method,
				"path", path,
				"status", status,
				"ip", ip,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
		return err
	}
}
