// Package ledger defines the currency-network capability an escrow ticket
// owns: a custody keypair that can report its unspent outputs, estimate
// fees and move funds.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNoFunds is returned by Send when the account holds no outputs, or
	// when a refund would leave nothing above dust after the fee.
	ErrNoFunds = errors.New("ledger: account has no spendable outputs")
	// ErrInsufficientFunds is returned by Send when outputs plus fee exceed the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
)

// Unspent is one output held by an account.
type Unspent struct {
	TxID          string
	Vout          uint32
	Amount        int64
	Confirmations int
}

// Output is a payout destination, amounts in the smallest currency unit.
type Output struct {
	Address string
	Amount  int64
}

// Account is a custody address with its signing key.
type Account interface {
	// Address is the custody address; it doubles as the ticket identity.
	Address() string
	// KeyMaterial exports the secret needed by Factory.Restore.
	KeyMaterial() string
	Unspents(ctx context.Context) ([]Unspent, error)
	// EstimateFee returns a fee rate in units per virtual byte.
	EstimateFee(ctx context.Context, fast bool) (int64, error)
	// Send pays outputs in order and returns the remainder, less the
	// network fee, to leftover. An empty outputs list is a full refund.
	Send(ctx context.Context, outputs []Output, leftover string, feeRate int64) (string, error)
}

// Factory allocates and restores accounts of one currency kind.
type Factory interface {
	Kind() string
	Create() (Account, error)
	Restore(keyMaterial string) (Account, error)
	ValidateAddress(address string) error
}

// ConfirmedBalance sums the outputs with at least minConfirmations.
func ConfirmedBalance(unspents []Unspent, minConfirmations int) int64 {
	var balance int64
	for _, u := range unspents {
		if u.Confirmations >= minConfirmations {
			balance += u.Amount
		}
	}
	return balance
}
