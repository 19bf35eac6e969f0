package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cashplace/escrow/internal/config"
	"github.com/cashplace/escrow/internal/events"
	"github.com/cashplace/escrow/internal/ledger"
	"github.com/cashplace/escrow/internal/repository"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// PasswordHasher turns party passwords into stored hashes and back.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(encoded, secret string) (bool, error)
	NeedsRehash(encoded string) bool
}

// Payout holds the per-currency payout parameters.
type Payout struct {
	// Rate is the share of the amount paid to the receiver, in (0, 1].
	Rate          float64
	MasterAddress string
	Confirmations int
	// StaticMinimal plus RelativeMinimal times the slow fee rate gives the
	// minimal escrow amount.
	StaticMinimal   int64
	RelativeMinimal int64
}

// PayoutFromConfig maps the bitcoin configuration.
func PayoutFromConfig(cfg config.BitcoinConfig) Payout {
	return Payout{
		Rate:            cfg.Rate,
		MasterAddress:   cfg.MasterAddress,
		Confirmations:   cfg.Confirmations,
		StaticMinimal:   cfg.StaticMinimal,
		RelativeMinimal: cfg.RelativeMinimal,
	}
}

// Currency binds a ledger factory to its payout parameters.
type Currency struct {
	Factory ledger.Factory
	Payout  Payout
}

// environment is shared by the registry and all of its tickets.
type environment struct {
	store      repository.TicketRepository
	clock      Clock
	hasher     PasswordHasher
	logger     *zap.Logger
	dispatcher events.Dispatcher
	policy     Policy
}

// now truncates to milliseconds so the persisted epoch round-trips exactly.
func (e *environment) now() time.Time {
	return e.clock.Now().Truncate(time.Millisecond)
}

func (e *environment) publish(ctx context.Context, eventType events.EventType, ticketID string, payload interface{}) {
	if e.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Timestamp: e.clock.Now().UTC(),
		Payload:   payload,
	}
	if err := e.dispatcher.Publish(ctx, event); err != nil {
		e.logger.Warn("event handler failed",
			zap.String("event_type", string(eventType)),
			zap.String("ticket_id", ticketID),
			zap.Error(err))
	}
}
