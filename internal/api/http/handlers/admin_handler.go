package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cashplace/escrow/internal/api/dto"
	"github.com/cashplace/escrow/internal/auth"
	"github.com/cashplace/escrow/internal/domain"
	"github.com/cashplace/escrow/internal/service"
	apperrors "github.com/cashplace/escrow/pkg/util/errorutil"
)

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	service *service.EscrowService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(escrowService *service.EscrowService) *AdminHandler {
	return &AdminHandler{service: escrowService}
}

// ListTickets GET /admin/tickets?status=RECEPTION.
func (h *AdminHandler) ListTickets(c *fiber.Ctx) error {
	var filter *domain.TicketStatus
	if raw := c.Query("status"); raw != "" {
		var status domain.TicketStatus
		if err := status.UnmarshalText([]byte(raw)); err != nil {
			return apperrors.NewValidationError("invalid status", map[string]any{"status": raw})
		}
		filter = &status
	}
	views := h.service.ListTickets(filter)
	items := make([]dto.TicketResponse, 0, len(views))
	for _, v := range views {
		items = append(items, ticketResponse(v))
	}
	return c.JSON(fiber.Map{"data": items})
}

// DeleteTicket DELETE /admin/tickets/:id. Funds are not refunded.
func (h *AdminHandler) DeleteTicket(c *fiber.Ctx) error {
	operator := ""
	if principal, ok := auth.PrincipalFromContext(c); ok {
		operator = principal.Operator
	}
	if err := h.service.DeleteTicket(c.UserContext(), c.Params("id"), operator); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Sweep POST /admin/sweep.
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	report := h.service.Sweep(c.UserContext())
	failures := make(map[string]string, len(report.Failures))
	for id, err := range report.Failures {
		failures[id] = err.Error()
	}
	return c.JSON(fiber.Map{"data": dto.SweepResponse{
		Visited:    report.Visited,
		Advanced:   nonNil(report.Advanced),
		Removed:    nonNil(report.Removed),
		Busy:       nonNil(report.Busy),
		Failures:   failures,
		DurationMs: report.Duration.Milliseconds(),
	}})
}

// Metrics GET /admin/metrics.
func (h *AdminHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.service.Metrics()})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
