package handlers

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"

	"cropledger/internal/domain"
	"cropledger/internal/license"
	applog "cropledger/internal/log"
	"cropledger/internal/validate"
)

const friendly = "Something went wrong. Please try again."

// ErrorHandler is the app-wide fallback: client errors keep their message,
// everything else is logged and replaced with a generic one.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	applog.Error(c, "server.error", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": friendly})
}

// fail maps core errors onto HTTP statuses.
func fail(c *fiber.Ctx, action string, err error) error {
	var ce *domain.SyncConflictError
	var se *domain.StorageError
	switch {
	case errors.Is(err, domain.ErrValidation):
		applog.Warn(c, action+".invalid", err, nil)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.As(err, &ce):
		applog.Warn(c, action+".conflict", err, map[string]any{"ids": ce.IDs})
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "The change was rejected by the server and has been undone.",
			"ids":   ce.IDs,
		})
	case errors.Is(err, license.ErrDenied):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "Cloud sync is not included in this license."})
	case errors.As(err, &se):
		applog.Error(c, action+".storage", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": friendly})
	default:
		return err
	}
}

// bind parses the JSON body into req and validates it.
func bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	return validate.Struct(req)
}

func owner(c *fiber.Ctx) string {
	o, _ := c.Locals("owner").(string)
	return o
}
