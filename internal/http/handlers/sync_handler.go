package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "cropledger/internal/log"
	"cropledger/internal/syncer"
)

type SyncHandler struct {
	Engine *syncer.Engine
}

func (h *SyncHandler) FullSync(c *fiber.Ctx) error {
	res, err := h.Engine.FullSync(c.UserContext(), owner(c))
	if err != nil {
		applog.Warn(c, "sync.full.fail", err, nil)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cloud unavailable, working offline"})
	}
	return c.JSON(res)
}

func (h *SyncHandler) Flush(c *fiber.Ctx) error {
	res, err := h.Engine.ProcessOfflineMessages(c.UserContext(), owner(c))
	if err != nil {
		return fail(c, "sync.flush", err)
	}
	return c.JSON(res)
}

// Status reports connectivity and queue health. ?probe=1 pings the cloud first.
func (h *SyncHandler) Status(c *fiber.Ctx) error {
	if c.QueryBool("probe") {
		h.Engine.Monitor().Probe(c.UserContext())
	}
	st, err := h.Engine.Status(c.UserContext(), owner(c))
	if err != nil {
		return fail(c, "sync.status", err)
	}
	return c.JSON(st)
}
