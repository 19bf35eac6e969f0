package escrow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cashplace/escrow/internal/auth"
	"github.com/cashplace/escrow/internal/domain"
	"github.com/cashplace/escrow/internal/events"
	"github.com/cashplace/escrow/internal/ledger/ledgertest"
	"github.com/cashplace/escrow/internal/repository"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testPolicy = Policy{
	ConfigurationDelay: 1 * time.Hour,
	ReceptionDelay:     2 * time.Hour,
	ReceivedDelay:      3 * time.Hour,
	SendingDelay:       4 * time.Hour,
	SentDelay:          5 * time.Hour,
	DisputeDelay:       6 * time.Hour,
}

var testPayout = Payout{
	Rate:            0.75,
	MasterAddress:   "master-addr",
	Confirmations:   1,
	StaticMinimal:   1000,
	RelativeMinimal: 100,
}

var weakParams = auth.Argon2Params{Time: 1, MemoryKiB: 8, Threads: 1}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	registry *Registry
	store    *repository.MemoryTicketRepository
	factory  *ledgertest.Factory
	clock    *manualClock
	events   *recorder
	hasher   *auth.PasswordHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, repository.NewMemoryTicketRepository(), ledgertest.NewFactory("btc"), newManualClock())
}

func newFixtureWith(t *testing.T, store *repository.MemoryTicketRepository, factory *ledgertest.Factory, clock *manualClock) *fixture {
	t.Helper()
	rec := &recorder{}
	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range []events.EventType{events.EventTicketCreated, events.EventTicketStatusChanged, events.EventTicketDeleted} {
		dispatcher.Subscribe(et, rec.handle)
	}
	hasher := auth.NewPasswordHasher(weakParams)
	registry, err := NewRegistry(Config{
		Policy:     testPolicy,
		Currencies: []Currency{{Factory: factory, Payout: testPayout}},
		Store:      store,
		Hasher:     hasher,
		Clock:      clock,
		Logger:     zaptest.NewLogger(t),
		Dispatcher: dispatcher,
	})
	require.NoError(t, err)
	return &fixture{
		registry: registry,
		store:    store,
		factory:  factory,
		clock:    clock,
		events:   rec,
		hasher:   hasher,
	}
}

func (f *fixture) create(t *testing.T) *Ticket {
	t.Helper()
	ticket, err := f.registry.CreateTicket(context.Background(), "btc")
	require.NoError(t, err)
	return ticket
}

// setRate changes the payout rate for tickets of the fixture's currency.
func (f *fixture) setRate(rate float64) {
	f.registry.currencies["btc"].Payout.Rate = rate
}

func (f *fixture) account(ticket *Ticket) *ledgertest.Account {
	return f.factory.Account(ticket.ID())
}

// configured returns a ticket in RECEPTION with amount 100000.
func (f *fixture) configured(t *testing.T) *Ticket {
	t.Helper()
	ctx := context.Background()
	ticket := f.create(t)
	require.NoError(t, ticket.SetAmount(ctx, 100000))
	require.NoError(t, ticket.SetLeftoverAddress(ctx, "leftover-addr"))
	require.NoError(t, ticket.SetReceiverAddress(ctx, "receiver-addr"))
	require.NoError(t, ticket.CompleteConfiguration(ctx))
	require.Equal(t, domain.TicketStatusReception, ticket.Status())
	return ticket
}

// force puts a ticket into status and stamps it with the current time.
func (f *fixture) force(ticket *Ticket, status domain.TicketStatus) {
	ticket.mu.Lock()
	defer ticket.mu.Unlock()
	ticket.status = status
	ticket.lastUpdate = f.registry.env.now()
}
