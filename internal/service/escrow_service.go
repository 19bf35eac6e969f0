package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/cashplace/escrow/internal/domain"
	"github.com/cashplace/escrow/internal/escrow"
	"github.com/cashplace/escrow/internal/observability"
	apperrors "github.com/cashplace/escrow/pkg/util/errorutil"
)

// EscrowService exposes ticket actions to the two parties and to operators.
type EscrowService struct {
	registry *escrow.Registry
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// EscrowDependencies bundles collaborators of the escrow service.
type EscrowDependencies struct {
	Registry *escrow.Registry
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Credentials identify a party acting on a ticket.
type Credentials struct {
	TicketID string
	Code     string
	Password string
}

// CreatedTicket is returned once, at creation; the codes are not shown again.
type CreatedTicket struct {
	View         escrow.View
	SpenderCode  string
	ReceiverCode string
}

// PartyView is a ticket seen by an authenticated party.
type PartyView struct {
	escrow.View
	Role domain.Role
}

// NewEscrowService constructs the service.
func NewEscrowService(deps EscrowDependencies) *EscrowService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscrowService{registry: deps.Registry, metrics: deps.Metrics, logger: logger}
}

// CreateTicket opens a ticket of kind.
func (s *EscrowService) CreateTicket(ctx context.Context, kind string) (*CreatedTicket, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return nil, apperrors.NewValidationError("kind is required", nil)
	}
	ticket, err := s.registry.CreateTicket(ctx, kind)
	if err != nil {
		return nil, err
	}
	return &CreatedTicket{
		View:         ticket.View(),
		SpenderCode:  ticket.SpenderCode(),
		ReceiverCode: ticket.ReceiverCode(),
	}, nil
}

// Kinds lists the currency kinds tickets can be opened for.
func (s *EscrowService) Kinds() []string {
	return s.registry.Kinds()
}

// authorize resolves the role granted by the capability code and checks the
// password of that role. An unknown code is indistinguishable from a wrong
// password.
func (s *EscrowService) authorize(ctx context.Context, creds Credentials) (*escrow.Ticket, domain.Role, error) {
	ticket, err := s.registry.Get(creds.TicketID)
	if err != nil {
		return nil, "", err
	}
	role, ok := ticket.RoleForCode(creds.Code)
	if !ok {
		return nil, "", apperrors.NewUnauthorized("invalid ticket code")
	}
	if err := ticket.VerifyPassword(ctx, creds.Password, role); err != nil {
		if apperrors.HasCode(err, apperrors.CodeUnauthorized) {
			s.logger.Info("ticket authorization rejected",
				zap.String("ticket_id", creds.TicketID),
				zap.String("role", string(role)))
		}
		return nil, "", err
	}
	return ticket, role, nil
}

func requireRole(role, want domain.Role, action string) error {
	if role != want {
		return apperrors.NewForbidden(strings.ToLower(string(want)) + " only: " + action)
	}
	return nil
}

// GetTicket returns the ticket as seen by the authenticated party.
func (s *EscrowService) GetTicket(ctx context.Context, creds Credentials) (*PartyView, error) {
	ticket, role, err := s.authorize(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &PartyView{View: ticket.View(), Role: role}, nil
}

// SetAmount is a spender action.
func (s *EscrowService) SetAmount(ctx context.Context, creds Credentials, amount int64) (*PartyView, error) {
	return s.act(ctx, creds, domain.RoleSpender, "set amount", func(t *escrow.Ticket) error {
		return t.SetAmount(ctx, amount)
	})
}

// SetLeftoverAddress is a spender action.
func (s *EscrowService) SetLeftoverAddress(ctx context.Context, creds Credentials, address string) (*PartyView, error) {
	return s.act(ctx, creds, domain.RoleSpender, "set leftover address", func(t *escrow.Ticket) error {
		return t.SetLeftoverAddress(ctx, strings.TrimSpace(address))
	})
}

// SetReceiverAddress is a receiver action.
func (s *EscrowService) SetReceiverAddress(ctx context.Context, creds Credentials, address string) (*PartyView, error) {
	return s.act(ctx, creds, domain.RoleReceiver, "set receiver address", func(t *escrow.Ticket) error {
		return t.SetReceiverAddress(ctx, strings.TrimSpace(address))
	})
}

// CompleteConfiguration may be called by either party.
func (s *EscrowService) CompleteConfiguration(ctx context.Context, creds Credentials) (*PartyView, error) {
	return s.act(ctx, creds, "", "", func(t *escrow.Ticket) error {
		return t.CompleteConfiguration(ctx)
	})
}

// RefreshBalance may be called by either party.
func (s *EscrowService) RefreshBalance(ctx context.Context, creds Credentials) (*PartyView, error) {
	return s.act(ctx, creds, "", "", func(t *escrow.Ticket) error {
		_, err := t.RefreshBalance(ctx)
		return err
	})
}

// MinimalAmount reports the smallest acceptable amount right now.
func (s *EscrowService) MinimalAmount(ctx context.Context, creds Credentials) (int64, error) {
	ticket, _, err := s.authorize(ctx, creds)
	if err != nil {
		return 0, err
	}
	return ticket.MinimalAmount(ctx)
}

// Finalize releases the escrow. Only the spender can pay out.
func (s *EscrowService) Finalize(ctx context.Context, creds Credentials, fast bool) (string, *PartyView, error) {
	ticket, role, err := s.authorize(ctx, creds)
	if err != nil {
		return "", nil, err
	}
	if err := requireRole(role, domain.RoleSpender, "finalize"); err != nil {
		return "", nil, err
	}
	txid, err := ticket.Finalize(ctx, fast)
	if err != nil {
		return "", nil, err
	}
	return txid, &PartyView{View: ticket.View(), Role: role}, nil
}

func (s *EscrowService) act(ctx context.Context, creds Credentials, want domain.Role, action string, fn func(*escrow.Ticket) error) (*PartyView, error) {
	ticket, role, err := s.authorize(ctx, creds)
	if err != nil {
		return nil, err
	}
	if want != "" {
		if err := requireRole(role, want, action); err != nil {
			return nil, err
		}
	}
	if err := fn(ticket); err != nil {
		return nil, err
	}
	return &PartyView{View: ticket.View(), Role: role}, nil
}

// ListTickets returns every live ticket for operators.
func (s *EscrowService) ListTickets(status *domain.TicketStatus) []escrow.View {
	tickets := s.registry.List()
	views := make([]escrow.View, 0, len(tickets))
	for _, t := range tickets {
		v := t.View()
		if status != nil && v.Status != *status {
			continue
		}
		views = append(views, v)
	}
	return views
}

// DeleteTicket drops a ticket without refunding it.
func (s *EscrowService) DeleteTicket(ctx context.Context, id, operator string) error {
	if err := s.registry.DeleteTicket(ctx, id); err != nil {
		return err
	}
	s.logger.Warn("ticket deleted by operator", zap.String("ticket_id", id), zap.String("operator", operator))
	return nil
}

// Sweep runs one expiry pass and records it.
func (s *EscrowService) Sweep(ctx context.Context) escrow.SweepReport {
	report := s.registry.Sweep(ctx)
	s.metrics.RecordSweep(report.StartedAt, report.Duration, len(report.Advanced), len(report.Removed), len(report.Failures))
	return report
}

// Metrics exposes the counters snapshot.
func (s *EscrowService) Metrics() observability.Snapshot {
	return s.metrics.Snapshot()
}
