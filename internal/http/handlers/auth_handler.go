package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"cropledger/internal/log"
	"cropledger/internal/services"
)

type AuthHandler struct {
	Auth *services.AuthService
	// OnLogin is told which owner is now active on this device.
	OnLogin func(owner string)
}

type loginReq struct {
	OwnerID string `json:"owner_id" validate:"required,rid"`
	PIN     string `json:"pin" validate:"required,pin"`
}

func ensureSID(c *fiber.Ctx) string {
	sid := c.Cookies("sid")
	if sid == "" {
		sid = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     "sid",
			Value:    sid,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	return sid
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	sid := ensureSID(c)
	var req loginReq
	if err := bind(c, &req); err != nil {
		log.Security(c, "auth.login.fail", map[string]any{"reason": "bad_format"})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid owner or pin"})
	}

	o, err := h.Auth.Login(sid, req.OwnerID, req.PIN)
	if err != nil {
		log.Security(c, "auth.login.fail", map[string]any{"owner_id": req.OwnerID})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid owner or pin"})
	}
	if h.OnLogin != nil {
		h.OnLogin(o.ID)
	}
	log.Audit(c, "auth.login.success", map[string]any{"owner": o.ID})
	return c.JSON(fiber.Map{"owner_id": o.ID, "name": o.Name})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sid := ensureSID(c)
	_ = h.Auth.Logout(sid)
	c.Cookie(&fiber.Cookie{
		Name:     "sid",
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Expires:  time.Now().Add(-1 * time.Hour),
	})
	log.Audit(c, "auth.logout", map[string]any{"sid": sid})
	return c.SendStatus(fiber.StatusNoContent)
}
