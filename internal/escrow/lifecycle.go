package escrow

import (
	"time"

	"github.com/cashplace/escrow/internal/config"
	"github.com/cashplace/escrow/internal/domain"
)

// Trigger names what happened to a ticket.
type Trigger int

const (
	// TriggerConfigured: the parties finished configuring amount and addresses.
	TriggerConfigured Trigger = iota
	// TriggerBalance: a balance refresh observed Event.Balance.
	TriggerBalance
	// TriggerPayout: finalize broadcast the payout transaction.
	TriggerPayout
	// TriggerSendCheck: a pending send was inspected without a
	// confirmation signal.
	TriggerSendCheck
	// TriggerExpiry: a sweep visited the ticket Event.Elapsed after its
	// last update.
	TriggerExpiry
)

func (t Trigger) String() string {
	switch t {
	case TriggerConfigured:
		return "configured"
	case TriggerBalance:
		return "balance"
	case TriggerPayout:
		return "payout"
	case TriggerSendCheck:
		return "send_check"
	case TriggerExpiry:
		return "expiry"
	default:
		return "unknown"
	}
}

// Event is the input of Transition.
type Event struct {
	Trigger Trigger
	Balance int64
	Amount  int64
	Elapsed time.Duration
}

// Outcome is what Transition decided.
type Outcome struct {
	Next domain.TicketStatus
	// Changed is set when Next differs from the input state.
	Changed bool
	// Refund asks for all custodied funds to go back to the leftover address.
	Refund bool
	// Remove asks for the ticket to leave the registry and storage.
	Remove bool
}

// Policy holds the per-status expiry thresholds.
type Policy struct {
	ConfigurationDelay time.Duration
	ReceptionDelay     time.Duration
	ReceivedDelay      time.Duration
	SendingDelay       time.Duration
	SentDelay          time.Duration
	DisputeDelay       time.Duration
}

// PolicyFromConfig maps the env configuration.
func PolicyFromConfig(cfg config.EscrowConfig) Policy {
	return Policy{
		ConfigurationDelay: cfg.ConfigurationDelay,
		ReceptionDelay:     cfg.ReceptionDelay,
		ReceivedDelay:      cfg.ReceivedDelay,
		SendingDelay:       cfg.SendingDelay,
		SentDelay:          cfg.SentDelay,
		DisputeDelay:       cfg.DisputeDelay,
	}
}

// Threshold returns the expiry delay of status.
func (p Policy) Threshold(status domain.TicketStatus) time.Duration {
	switch status {
	case domain.TicketStatusConfiguration:
		return p.ConfigurationDelay
	case domain.TicketStatusReception:
		return p.ReceptionDelay
	case domain.TicketStatusReceived:
		return p.ReceivedDelay
	case domain.TicketStatusSending:
		return p.SendingDelay
	case domain.TicketStatusSent:
		return p.SentDelay
	default:
		return p.DisputeDelay
	}
}

// Transition is the whole ticket lifecycle table. Pairs not listed leave the
// state unchanged.
//
//	CONFIGURATION  configured          -> RECEPTION
//	CONFIGURATION  expired             -> removed
//	RECEPTION      balance >= amount   -> RECEIVED
//	RECEPTION      expired             -> refunded, removed
//	RECEIVED       balance == 0        -> SENDING
//	RECEIVED       payout              -> SENDING
//	RECEIVED       expired             -> SENT
//	SENDING        send check          -> DISPUTE
//	SENDING        expired             -> RECEIVED
//	SENDING        visited, not expired-> DISPUTE
//	SENT           expired             -> removed
//	DISPUTE        expired             -> refunded, removed
func Transition(state domain.TicketStatus, ev Event, policy Policy) Outcome {
	stay := Outcome{Next: state}
	move := func(next domain.TicketStatus) Outcome {
		return Outcome{Next: next, Changed: next != state}
	}
	expired := ev.Trigger == TriggerExpiry && ev.Elapsed > policy.Threshold(state)

	switch state {
	case domain.TicketStatusConfiguration:
		switch {
		case ev.Trigger == TriggerConfigured:
			return move(domain.TicketStatusReception)
		case expired:
			return Outcome{Next: state, Remove: true}
		}

	case domain.TicketStatusReception:
		switch {
		case ev.Trigger == TriggerBalance && ev.Balance >= ev.Amount:
			return move(domain.TicketStatusReceived)
		case expired:
			return Outcome{Next: state, Refund: true, Remove: true}
		}

	case domain.TicketStatusReceived:
		switch {
		case ev.Trigger == TriggerBalance && ev.Balance < ev.Amount && ev.Balance == 0:
			return move(domain.TicketStatusSending)
		case ev.Trigger == TriggerPayout:
			return move(domain.TicketStatusSending)
		case expired:
			return move(domain.TicketStatusSent)
		}

	case domain.TicketStatusSending:
		switch {
		case expired:
			return move(domain.TicketStatusReceived)
		case ev.Trigger == TriggerSendCheck, ev.Trigger == TriggerExpiry:
			return move(domain.TicketStatusDispute)
		}

	case domain.TicketStatusSent:
		if expired {
			return Outcome{Next: state, Remove: true}
		}

	case domain.TicketStatusDispute:
		if expired {
			return Outcome{Next: state, Refund: true, Remove: true}
		}
	}
	return stay
}
