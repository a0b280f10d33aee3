package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request ID back to the caller
const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware tags each request with an ID and logs it once handled
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		id := c.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)

		err := c.Next()

		// Probes and the long-lived event stream are too noisy
		path := c.Path()
		switch path {
		case "/metrics", "/health", "/api/events":
			return err
		}

		level := slog.LevelInfo
		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelWarn
		}

		logger.Log(c.UserContext(), level, "http request",
			"request_id", id,
			"method", c.Method(),
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
