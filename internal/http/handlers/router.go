package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "cropledger/internal/log"
)

// NewApp builds the fiber app with the shared middleware stack.
func NewApp(maxBody int) *fiber.App {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    maxBody,
	})
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// long-lived streams and scrapes are not user actions
			p := c.Path()
			return p == "/metrics" || p == "/healthz" || strings.HasPrefix(p, "/api/v1/observe/")
		},
	}))
	return app
}

func Register(app *fiber.App, d *Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many attempts. Please try again later."})
		},
	}), d.Auth.Login)
	app.Post("/logout", d.Auth.Logout)

	api := app.Group("/api/v1", RequireOwner(d.AuthSvc))

	api.Get("/partners", d.Partners.List)
	api.Post("/partners", d.Partners.Create)
	api.Patch("/partners/:id", d.Partners.UpdateContact)
	api.Get("/partners/:id/outstanding", d.Partners.Outstanding)

	api.Get("/stock", d.Stock.List)
	api.Post("/stock", d.Stock.Create)
	api.Put("/stock/:id", d.Stock.Update)
	api.Delete("/stock/:id", d.Stock.Delete)

	api.Post("/transactions/buy", d.Trades.Buy)
	api.Post("/transactions/sell", d.Trades.Sell)
	api.Get("/invoices", d.Trades.Invoices)
	api.Get("/purchases", d.Trades.Purchases)

	api.Get("/observe/:kind", d.Observe.Stream)

	api.Post("/sync", d.Sync.FullSync)
	api.Post("/sync/flush", d.Sync.Flush)
	api.Get("/status", d.Sync.Status)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	})
}
