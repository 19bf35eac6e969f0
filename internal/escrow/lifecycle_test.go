package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cashplace/escrow/internal/domain"
)

func TestTransition(t *testing.T) {
	expiredFor := func(s domain.TicketStatus) Event {
		return Event{Trigger: TriggerExpiry, Elapsed: testPolicy.Threshold(s) + time.Second}
	}
	freshFor := func(s domain.TicketStatus) Event {
		return Event{Trigger: TriggerExpiry, Elapsed: testPolicy.Threshold(s)}
	}
	balance := func(b int64) Event {
		return Event{Trigger: TriggerBalance, Balance: b, Amount: 1000}
	}

	const (
		cfg     = domain.TicketStatusConfiguration
		recp    = domain.TicketStatusReception
		recv    = domain.TicketStatusReceived
		sending = domain.TicketStatusSending
		sent    = domain.TicketStatusSent
		dispute = domain.TicketStatusDispute
	)

	tests := []struct {
		name  string
		state domain.TicketStatus
		event Event
		want  Outcome
	}{
		{"configuration completes", cfg, Event{Trigger: TriggerConfigured}, Outcome{Next: recp, Changed: true}},
		{"configuration ignores balance", cfg, balance(5000), Outcome{Next: cfg}},
		{"configuration at threshold stays", cfg, freshFor(cfg), Outcome{Next: cfg}},
		{"configuration expires", cfg, expiredFor(cfg), Outcome{Next: cfg, Remove: true}},

		{"reception funded", recp, balance(1000), Outcome{Next: recv, Changed: true}},
		{"reception overfunded", recp, balance(1500), Outcome{Next: recv, Changed: true}},
		{"reception underfunded", recp, balance(999), Outcome{Next: recp}},
		{"reception at threshold stays", recp, freshFor(recp), Outcome{Next: recp}},
		{"reception expires with refund", recp, expiredFor(recp), Outcome{Next: recp, Refund: true, Remove: true}},
		{"reception ignores configured", recp, Event{Trigger: TriggerConfigured}, Outcome{Next: recp}},

		{"received drained", recv, balance(0), Outcome{Next: sending, Changed: true}},
		{"received partially drained", recv, balance(500), Outcome{Next: recv}},
		{"received still funded", recv, balance(1000), Outcome{Next: recv}},
		{"received payout", recv, Event{Trigger: TriggerPayout}, Outcome{Next: sending, Changed: true}},
		{"received at threshold stays", recv, freshFor(recv), Outcome{Next: recv}},
		{"received expires to sent", recv, expiredFor(recv), Outcome{Next: sent, Changed: true}},

		{"sending check disputes", sending, Event{Trigger: TriggerSendCheck}, Outcome{Next: dispute, Changed: true}},
		{"sending visited disputes", sending, freshFor(sending), Outcome{Next: dispute, Changed: true}},
		{"sending expires back to received", sending, expiredFor(sending), Outcome{Next: recv, Changed: true}},
		{"sending ignores balance", sending, balance(0), Outcome{Next: sending}},

		{"sent at threshold stays", sent, freshFor(sent), Outcome{Next: sent}},
		{"sent expires", sent, expiredFor(sent), Outcome{Next: sent, Remove: true}},
		{"sent ignores balance", sent, balance(0), Outcome{Next: sent}},

		{"dispute at threshold stays", dispute, freshFor(dispute), Outcome{Next: dispute}},
		{"dispute expires with refund", dispute, expiredFor(dispute), Outcome{Next: dispute, Refund: true, Remove: true}},
		{"dispute ignores payout", dispute, Event{Trigger: TriggerPayout}, Outcome{Next: dispute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.state, tt.event, testPolicy))
		})
	}
}

func TestPolicyThreshold(t *testing.T) {
	assert.Equal(t, time.Hour, testPolicy.Threshold(domain.TicketStatusConfiguration))
	assert.Equal(t, 4*time.Hour, testPolicy.Threshold(domain.TicketStatusSending))
	assert.Equal(t, 6*time.Hour, testPolicy.Threshold(domain.TicketStatusDispute))
}
