package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cashplace/escrow/internal/api/http/handlers"
	"github.com/cashplace/escrow/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	tickets := app.Group("/tickets")
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("/kinds", cfg.Tickets.Kinds)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Put("/:id/amount", cfg.Tickets.SetAmount)
	tickets.Put("/:id/leftover-address", cfg.Tickets.SetLeftoverAddress)
	tickets.Put("/:id/receiver-address", cfg.Tickets.SetReceiverAddress)
	tickets.Get("/:id/minimal-amount", cfg.Tickets.MinimalAmount)
	tickets.Post("/:id/confirm", cfg.Tickets.Confirm)
	tickets.Post("/:id/refresh", cfg.Tickets.Refresh)
	tickets.Post("/:id/finalize", cfg.Tickets.Finalize)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireScope(auth.ScopeAdmin))
	admin.Get("/tickets", cfg.Admin.ListTickets)
	admin.Delete("/tickets/:id", cfg.Admin.DeleteTicket)
	admin.Post("/sweep", cfg.Admin.Sweep)
	admin.Get("/metrics", cfg.Admin.Metrics)
}
