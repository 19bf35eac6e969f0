// Package escrow holds the ticket lifecycle: the ticket state machine, the
// registry that owns live tickets and the expiry sweeper.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cashplace/escrow/internal/domain"
	"github.com/cashplace/escrow/internal/events"
	"github.com/cashplace/escrow/internal/repository"
	apperrors "github.com/cashplace/escrow/pkg/util/errorutil"
)

// Config wires a Registry.
type Config struct {
	Policy     Policy
	Currencies []Currency
	Store      repository.TicketRepository
	Hasher     PasswordHasher
	// Clock defaults to SystemClock.
	Clock      Clock
	Logger     *zap.Logger
	Dispatcher events.Dispatcher
	// SweepWorkers bounds how many tickets a sweep processes at once.
	SweepWorkers int
}

// Registry is the set of live tickets keyed by id.
type Registry struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket

	sweepMu      sync.Mutex
	sweepWorkers int

	env        *environment
	currencies map[string]*Currency
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, errors.New("escrow: store is required")
	}
	if cfg.Hasher == nil {
		return nil, errors.New("escrow: password hasher is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SweepWorkers <= 0 {
		cfg.SweepWorkers = 8
	}

	currencies := make(map[string]*Currency, len(cfg.Currencies))
	for i := range cfg.Currencies {
		c := cfg.Currencies[i]
		if c.Factory == nil {
			return nil, errors.New("escrow: currency without ledger factory")
		}
		if c.Payout.Rate <= 0 || c.Payout.Rate > 1 {
			return nil, fmt.Errorf("escrow: %s payout rate %v outside (0, 1]", c.Factory.Kind(), c.Payout.Rate)
		}
		currencies[c.Factory.Kind()] = &c
	}

	return &Registry{
		tickets:      make(map[string]*Ticket),
		sweepWorkers: cfg.SweepWorkers,
		currencies:   currencies,
		env: &environment{
			store:      cfg.Store,
			clock:      cfg.Clock,
			hasher:     cfg.Hasher,
			logger:     cfg.Logger.Named("escrow"),
			dispatcher: cfg.Dispatcher,
			policy:     cfg.Policy,
		},
	}, nil
}

// Kinds lists the supported currency kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.currencies))
	for kind := range r.currencies {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// CreateTicket allocates a custody account of kind and registers a new
// ticket in CONFIGURATION.
func (r *Registry) CreateTicket(ctx context.Context, kind string) (*Ticket, error) {
	currency, ok := r.currencies[kind]
	if !ok {
		return nil, apperrors.NewUnsupportedKind(kind)
	}
	account, err := currency.Factory.Create()
	if err != nil {
		return nil, apperrors.NewLedgerFailure("create account", err)
	}
	ticket, err := newTicket(r.env, currency, account)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	r.mu.Lock()
	if _, exists := r.tickets[ticket.id]; exists {
		r.mu.Unlock()
		return nil, apperrors.NewConflict("ticket id already registered", map[string]any{"ticket_id": ticket.id})
	}
	r.tickets[ticket.id] = ticket
	r.mu.Unlock()

	ticket.mu.Lock()
	err = ticket.save(ctx)
	ticket.mu.Unlock()
	if err != nil {
		r.mu.Lock()
		if r.tickets[ticket.id] == ticket {
			delete(r.tickets, ticket.id)
		}
		r.mu.Unlock()
		ticket.close()
		return nil, err
	}

	r.env.logger.Info("ticket created", zap.String("ticket_id", ticket.id), zap.String("kind", kind))
	r.env.publish(ctx, events.EventTicketCreated, ticket.id, events.TicketCreatedPayload{Kind: kind})
	return ticket, nil
}

// Get returns the live ticket with id.
func (r *Registry) Get(id string) (*Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return ticket, nil
}

// List returns every live ticket ordered by id.
func (r *Registry) List() []*Ticket {
	r.mu.RLock()
	tickets := make([]*Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		tickets = append(tickets, t)
	}
	r.mu.RUnlock()
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].id < tickets[j].id })
	return tickets
}

// Len is the number of live tickets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tickets)
}

// DeleteTicket removes a ticket from memory and storage without touching
// its funds.
func (r *Registry) DeleteTicket(ctx context.Context, id string) error {
	r.mu.Lock()
	ticket, ok := r.tickets[id]
	if ok {
		delete(r.tickets, id)
	}
	r.mu.Unlock()
	if !ok {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}

	ticket.close()
	status := ticket.Status()
	if err := r.forget(ctx, id); err != nil {
		return err
	}
	r.env.logger.Info("ticket deleted", zap.String("ticket_id", id), zap.Stringer("status", status))
	r.env.publish(ctx, events.EventTicketDeleted, id, events.TicketDeletedPayload{
		Status: status,
		Reason: "deleted",
	})
	return nil
}

func (r *Registry) forget(ctx context.Context, id string) error {
	if err := r.env.store.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrTicketNotFound) {
		return apperrors.NewInternalError(fmt.Errorf("delete ticket %s: %w", id, err))
	}
	return nil
}

// Load restores every stored ticket. Records that cannot be restored are
// skipped and logged; they stay in storage untouched.
func (r *Registry) Load(ctx context.Context) (int, error) {
	records, err := r.env.store.LoadAll(ctx)
	var corrupt *repository.CorruptRecordsError
	if errors.As(err, &corrupt) {
		r.env.logger.Warn("skipping undecodable stored tickets",
			zap.Strings("ticket_ids", corrupt.IDs),
			zap.Error(err))
	} else if err != nil {
		return 0, apperrors.NewInternalError(fmt.Errorf("load tickets: %w", err))
	}

	loaded := 0
	for _, record := range records {
		ticket, err := r.restore(record)
		if err != nil {
			r.env.logger.Warn("skipping stored ticket",
				zap.String("ticket_id", record.ID),
				zap.String("kind", record.Kind),
				zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.tickets[ticket.id] = ticket
		r.mu.Unlock()
		loaded++
	}
	r.env.logger.Info("tickets loaded", zap.Int("loaded", loaded), zap.Int("stored", len(records)))
	return loaded, nil
}

func (r *Registry) restore(record domain.TicketRecord) (*Ticket, error) {
	currency, ok := r.currencies[record.Kind]
	if !ok {
		return nil, apperrors.NewUnsupportedKind(record.Kind)
	}
	account, err := currency.Factory.Restore(record.KeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("restore key: %w", err)
	}
	if account.Address() != record.ID {
		return nil, fmt.Errorf("key material belongs to %s", account.Address())
	}
	return ticketFromRecord(r.env, currency, account, record)
}

// Save persists every live ticket.
func (r *Registry) Save(ctx context.Context) error {
	var errs []error
	for _, ticket := range r.List() {
		ticket.mu.Lock()
		if !ticket.closed {
			if err := ticket.save(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		ticket.mu.Unlock()
	}
	return errors.Join(errs...)
}
