package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for escrow tickets. The ordinal
// values are persisted and must not be reordered.
type TicketStatus int

const (
	TicketStatusConfiguration TicketStatus = iota
	TicketStatusReception
	TicketStatusReceived
	TicketStatusSending
	TicketStatusSent
	TicketStatusDispute
)

var ticketStatusNames = [...]string{
	TicketStatusConfiguration: "CONFIGURATION",
	TicketStatusReception:     "RECEPTION",
	TicketStatusReceived:      "RECEIVED",
	TicketStatusSending:       "SENDING",
	TicketStatusSent:          "SENT",
	TicketStatusDispute:       "DISPUTE",
}

// AllTicketStatuses lists every status in ordinal order.
func AllTicketStatuses() []TicketStatus {
	return []TicketStatus{
		TicketStatusConfiguration,
		TicketStatusReception,
		TicketStatusReceived,
		TicketStatusSending,
		TicketStatusSent,
		TicketStatusDispute,
	}
}

// Valid reports whether s is one of the defined statuses.
func (s TicketStatus) Valid() bool {
	return s >= TicketStatusConfiguration && s <= TicketStatusDispute
}

func (s TicketStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("TicketStatus(%d)", int(s))
	}
	return ticketStatusNames[s]
}

// MarshalText renders the status name for JSON payloads.
func (s TicketStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ticket status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *TicketStatus) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for i, candidate := range ticketStatusNames {
		if candidate == name {
			*s = TicketStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown ticket status %q", string(text))
}

// Role identifies which party of a ticket is acting.
type Role string

const (
	RoleSpender  Role = "SPENDER"
	RoleReceiver Role = "RECEIVER"
)

// IsSpender reports whether r is the spender role.
func (r Role) IsSpender() bool { return r == RoleSpender }

// MasterRole is the tri-state record of which party authenticated first.
type MasterRole int8

const (
	MasterUnset MasterRole = iota
	MasterSpender
	MasterReceiver
)

func (m MasterRole) String() string {
	switch m {
	case MasterSpender:
		return "SPENDER"
	case MasterReceiver:
		return "RECEIVER"
	default:
		return "UNSET"
	}
}

// MasterFromRole maps the bootstrapping role to its master value.
func MasterFromRole(r Role) MasterRole {
	if r.IsSpender() {
		return MasterSpender
	}
	return MasterReceiver
}

// MasterFromFlag decodes the persisted nullable master_is_spender flag.
func MasterFromFlag(flag *bool) MasterRole {
	switch {
	case flag == nil:
		return MasterUnset
	case *flag:
		return MasterSpender
	default:
		return MasterReceiver
	}
}

// Flag encodes m as the persisted nullable master_is_spender flag.
func (m MasterRole) Flag() *bool {
	switch m {
	case MasterSpender:
		v := true
		return &v
	case MasterReceiver:
		v := false
		return &v
	default:
		return nil
	}
}

// TicketRecord is the persisted form of one escrow ticket.
type TicketRecord struct {
	ID              string  `json:"id" cbor:"id"`
	Kind            string  `json:"coin" cbor:"coin"`
	Amount          int64   `json:"amount" cbor:"amount"`
	KeyMaterial     string  `json:"wif" cbor:"wif"`
	SpenderHash     *string `json:"spender_hash" cbor:"spender_hash"`
	SpenderCode     string  `json:"spender_code" cbor:"spender_code"`
	ReceiverHash    *string `json:"receiver_hash" cbor:"receiver_hash"`
	ReceiverCode    string  `json:"receiver_code" cbor:"receiver_code"`
	MasterIsSpender *bool   `json:"master_is_spender" cbor:"master_is_spender"`
	LeftoverAddress string  `json:"leftover_address" cbor:"leftover_address"`
	ReceiverAddress string  `json:"receiver_address" cbor:"receiver_address"`
	Status          int     `json:"status" cbor:"status"`
	LastUpdate      float64 `json:"last_update" cbor:"last_update"`
}

// EpochSeconds converts t to the persisted fractional epoch representation.
// Only millisecond precision survives the round trip.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// FromEpochSeconds is the inverse of EpochSeconds.
func FromEpochSeconds(seconds float64) time.Time {
	return time.UnixMilli(int64(math.Round(seconds * 1000)))
}
