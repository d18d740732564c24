package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sendvault/backend/pkg/logger"
	"github.com/sendvault/backend/pkg/utils"
)

// RequireMaintenanceToken guards the administrative endpoints. Operators
// present a short-lived signed token in the Authorization header.
func RequireMaintenanceToken(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		logger.Warn("maintenance_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader || tokenString == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}

	if err := utils.ValidateMaintenanceToken(tokenString); err != nil {
		logger.Warn("maintenance_token_rejected", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	return c.Next()
}
