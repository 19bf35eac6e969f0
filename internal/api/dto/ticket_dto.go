package dto

import (
	"time"

	"github.com/cashplace/escrow/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Kind string `json:"kind"`
}

// SetAmountRequest payload.
type SetAmountRequest struct {
	Amount int64 `json:"amount"`
}

// SetAddressRequest payload for both leftover and receiver addresses.
type SetAddressRequest struct {
	Address string `json:"address"`
}

// FinalizeRequest payload. Fast asks for a next-block fee rate.
type FinalizeRequest struct {
	Fast bool `json:"fast"`
}

// TicketResponse describes a ticket. Password hashes and key material never
// leave the service.
type TicketResponse struct {
	ID              string              `json:"id"`
	Kind            string              `json:"kind"`
	Amount          int64               `json:"amount"`
	Balance         int64               `json:"balance"`
	Status          domain.TicketStatus `json:"status"`
	Master          string              `json:"master"`
	SpenderClaimed  bool                `json:"spender_claimed"`
	ReceiverClaimed bool                `json:"receiver_claimed"`
	LeftoverAddress string              `json:"leftover_address,omitempty"`
	ReceiverAddress string              `json:"receiver_address,omitempty"`
	LastUpdate      time.Time           `json:"last_update"`
	Role            domain.Role         `json:"role,omitempty"`
}

// CreatedTicketResponse carries the capability codes, shown only once.
type CreatedTicketResponse struct {
	Ticket       TicketResponse `json:"ticket"`
	SpenderCode  string         `json:"spender_code"`
	ReceiverCode string         `json:"receiver_code"`
}

// FinalizeResponse reports the broadcast payout.
type FinalizeResponse struct {
	TxID   string         `json:"txid"`
	Ticket TicketResponse `json:"ticket"`
}

// MinimalAmountResponse reports the current minimal amount.
type MinimalAmountResponse struct {
	Amount int64 `json:"amount"`
}

// SweepResponse summarizes a sweep triggered by an operator.
type SweepResponse struct {
	Visited    int               `json:"visited"`
	Advanced   []string          `json:"advanced"`
	Removed    []string          `json:"removed"`
	Busy       []string          `json:"busy"`
	Failures   map[string]string `json:"failures"`
	DurationMs int64             `json:"duration_ms"`
}
