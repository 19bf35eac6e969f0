package escrow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cashplace/escrow/internal/domain"
	"github.com/cashplace/escrow/internal/events"
)

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Visited   int
	Advanced  []string
	Removed   []string
	Busy      []string
	Failures  map[string]error
	StartedAt time.Time
	Duration  time.Duration
}

type sweepVisit struct {
	ticket *Ticket
	result expiryResult
	status domain.TicketStatus
	err    error
}

// Sweep applies the expiry policy to every live ticket. The pass works on a
// snapshot: tickets are first evaluated, and possibly refunded, concurrently
// under their own locks; removals are applied afterwards in one batch. A
// failure on one ticket is recorded and never stops the pass. Only one
// sweep runs at a time.
func (r *Registry) Sweep(ctx context.Context) SweepReport {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	now := r.env.clock.Now()
	snapshot := r.List()
	report := SweepReport{
		Visited:   len(snapshot),
		Failures:  make(map[string]error),
		StartedAt: now,
	}

	visits := make([]sweepVisit, len(snapshot))
	sem := make(chan struct{}, r.sweepWorkers)
	var wg sync.WaitGroup
	for i, ticket := range snapshot {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ticket *Ticket) {
			defer wg.Done()
			defer func() { <-sem }()
			result, status, err := ticket.expire(ctx, now)
			visits[i] = sweepVisit{ticket: ticket, result: result, status: status, err: err}
		}(i, ticket)
	}
	wg.Wait()

	var removed []sweepVisit
	for _, v := range visits {
		id := v.ticket.id
		if v.err != nil {
			report.Failures[id] = v.err
			r.env.logger.Error("sweep failed for ticket",
				zap.String("ticket_id", id),
				zap.Stringer("status", v.status),
				zap.Error(v.err))
		}
		switch v.result {
		case expiryBusy:
			report.Busy = append(report.Busy, id)
		case expiryAdvanced:
			report.Advanced = append(report.Advanced, id)
		case expiryRemoved:
			removed = append(removed, v)
		}
	}

	r.mu.Lock()
	for _, v := range removed {
		if r.tickets[v.ticket.id] == v.ticket {
			delete(r.tickets, v.ticket.id)
		}
	}
	r.mu.Unlock()

	for _, v := range removed {
		id := v.ticket.id
		if err := r.forget(ctx, id); err != nil {
			report.Failures[id] = err
			r.env.logger.Error("sweep could not delete stored ticket", zap.String("ticket_id", id), zap.Error(err))
		}
		report.Removed = append(report.Removed, id)
		refunded := v.status == domain.TicketStatusReception || v.status == domain.TicketStatusDispute
		r.env.logger.Warn("ticket expired",
			zap.String("ticket_id", id),
			zap.Stringer("status", v.status),
			zap.Bool("refunded", refunded))
		r.env.publish(ctx, events.EventTicketDeleted, id, events.TicketDeletedPayload{
			Status:   v.status,
			Refunded: refunded,
			Reason:   "expired",
		})
	}

	report.Duration = r.env.clock.Now().Sub(now)
	r.env.logger.Debug("sweep finished",
		zap.Int("visited", report.Visited),
		zap.Int("advanced", len(report.Advanced)),
		zap.Int("removed", len(report.Removed)),
		zap.Int("failed", len(report.Failures)))
	return report
}
