package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/sendvault/backend/pkg/logger"
)

func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Access-Token",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
	})
}

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := logger.GenerateRequestID()
		c.Locals("requestID", requestID)

		err := c.Next()

		latency := time.Since(start)
		statusCode := c.Response().StatusCode()

		details := map[string]interface{}{
			"method":       c.Method(),
			"path":         c.Path(),
			"status_code":  statusCode,
			"latency_ms":   latency.Milliseconds(),
			"user_agent":   c.Get("User-Agent"),
			"ip":           c.IP(),
			"request_body": logger.GetRequestBodySummary(c),
			"request_id":   requestID,
		}

		if statusCode >= 500 {
			logger.Error("http_request", err, details)
		} else {
			logger.Info("http_request", details)
		}

		return err
	}
}
