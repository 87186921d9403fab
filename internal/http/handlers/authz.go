package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "cropledger/internal/log"
	"cropledger/internal/services"
)

// RequireOwner resolves the session cookie to an owner and scopes the
// request to it. Every /api route sits behind this.
func RequireOwner(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies("sid")
		if sid == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "login required"})
		}
		o, err := auth.CurrentOwner(sid)
		if err != nil || o == nil {
			applog.Security(c, "access.denied", map[string]any{"sid": sid})
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "login required"})
		}
		c.Locals("owner", o.ID)
		return c.Next()
	}
}
