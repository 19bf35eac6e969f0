package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cashplace/escrow/internal/api/dto"
	"github.com/cashplace/escrow/internal/escrow"
	"github.com/cashplace/escrow/internal/service"
	apperrors "github.com/cashplace/escrow/pkg/util/errorutil"
)

// Party credential headers.
const (
	HeaderTicketCode     = "X-Ticket-Code"
	HeaderTicketPassword = "X-Ticket-Password"
)

// TicketsHandler manages the party endpoints.
type TicketsHandler struct {
	service *service.EscrowService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(escrowService *service.EscrowService) *TicketsHandler {
	return &TicketsHandler{service: escrowService}
}

func credentials(c *fiber.Ctx) service.Credentials {
	return service.Credentials{
		TicketID: c.Params("id"),
		Code:     c.Get(HeaderTicketCode),
		Password: c.Get(HeaderTicketPassword),
	}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	created, err := h.service.CreateTicket(c.UserContext(), req.Kind)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.CreatedTicketResponse{
		Ticket:       ticketResponse(created.View),
		SpenderCode:  created.SpenderCode,
		ReceiverCode: created.ReceiverCode,
	}})
}

// Kinds GET /tickets/kinds.
func (h *TicketsHandler) Kinds(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.service.Kinds()})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	view, err := h.service.GetTicket(c.UserContext(), credentials(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": partyResponse(view)})
}

// SetAmount PUT /tickets/:id/amount.
func (h *TicketsHandler) SetAmount(c *fiber.Ctx) error {
	var req dto.SetAmountRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Amount <= 0 {
		return apperrors.NewValidationError("amount must be positive", nil)
	}
	view, err := h.service.SetAmount(c.UserContext(), credentials(c), req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": partyResponse(view)})
}

// SetLeftoverAddress PUT /tickets/:id/leftover-address.
func (h *TicketsHandler) SetLeftoverAddress(c *fiber.Ctx) error {
	var req dto.SetAddressRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	view, err := h.service.SetLeftoverAddress(c.UserContext(), credentials(c), req.Address)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": partyResponse(view)})
}

// SetReceiverAddress PUT /tickets/:id/receiver-address.
func (h *TicketsHandler) SetReceiverAddress(c *fiber.Ctx) error {
	var req dto.SetAddressRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	view, err := h.service.SetReceiverAddress(c.UserContext(), credentials(c), req.Address)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": partyResponse(view)})
}

// Confirm POST /tickets/:id/confirm.
func (h *TicketsHandler) Confirm(c *fiber.Ctx) error {
	view, err := h.service.CompleteConfiguration(c.UserContext(), credentials(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": partyResponse(view)})
}

// Refresh POST /tickets/:id/refresh.
func (h *TicketsHandler) Refresh(c *fiber.Ctx) error {
	view, err := h.service.RefreshBalance(c.UserContext(), credentials(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": partyResponse(view)})
}

// MinimalAmount GET /tickets/:id/minimal-amount.
func (h *TicketsHandler) MinimalAmount(c *fiber.Ctx) error {
	amount, err := h.service.MinimalAmount(c.UserContext(), credentials(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.MinimalAmountResponse{Amount: amount}})
}

// Finalize POST /tickets/:id/finalize.
func (h *TicketsHandler) Finalize(c *fiber.Ctx) error {
	var req dto.FinalizeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	txid, view, err := h.service.Finalize(c.UserContext(), credentials(c), req.Fast)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FinalizeResponse{TxID: txid, Ticket: partyResponse(view)}})
}

func ticketResponse(v escrow.View) dto.TicketResponse {
	return dto.TicketResponse{
		ID:              v.ID,
		Kind:            v.Kind,
		Amount:          v.Amount,
		Balance:         v.Balance,
		Status:          v.Status,
		Master:          v.Master.String(),
		SpenderClaimed:  v.SpenderClaimed,
		ReceiverClaimed: v.ReceiverClaimed,
		LeftoverAddress: v.LeftoverAddress,
		ReceiverAddress: v.ReceiverAddress,
		LastUpdate:      v.LastUpdate.UTC(),
	}
}

func partyResponse(v *service.PartyView) dto.TicketResponse {
	resp := ticketResponse(v.View)
	resp.Role = v.Role
	return resp
}
