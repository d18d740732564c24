package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

// transferCredentials extracts the transfer ID and access token from a
// request. An unparseable ID behaves like an unknown transfer.
func transferCredentials(c *fiber.Ctx) (uuid.UUID, string, bool) {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return uuid.Nil, "", false
	}

	token := c.Get("X-Access-Token")
	if token == "" {
		token = c.Query("token")
	}
	return id, token, true
}
