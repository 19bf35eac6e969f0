// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cashplace/escrow/internal/ledger"
)

const keyPrefix = "fake-key:"

// SendCall records one Send invocation.
type SendCall struct {
	Outputs  []ledger.Output
	Leftover string
	FeeRate  int64
}

// Factory hands out fake accounts and remembers them by address.
type Factory struct {
	kind    string
	counter atomic.Int64

	mu       sync.Mutex
	accounts map[string]*Account
}

// NewFactory returns a factory for kind.
func NewFactory(kind string) *Factory {
	return &Factory{kind: kind, accounts: make(map[string]*Account)}
}

func (f *Factory) Kind() string { return f.kind }

func (f *Factory) Create() (ledger.Account, error) {
	n := f.counter.Add(1)
	return f.account(fmt.Sprintf("%s-addr-%06d", f.kind, n)), nil
}

func (f *Factory) Restore(keyMaterial string) (ledger.Account, error) {
	if !strings.HasPrefix(keyMaterial, keyPrefix) {
		return nil, errors.New("ledgertest: bad key material")
	}
	return f.account(strings.TrimPrefix(keyMaterial, keyPrefix)), nil
}

// ValidateAddress rejects empty addresses and anything containing spaces.
func (f *Factory) ValidateAddress(address string) error {
	if address == "" || strings.ContainsAny(address, " \t") {
		return fmt.Errorf("ledgertest: invalid address %q", address)
	}
	return nil
}

// Account returns the fake bound to address, creating it if needed.
func (f *Factory) Account(address string) *Account {
	return f.account(address)
}

func (f *Factory) account(address string) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[address]; ok {
		return a
	}
	a := &Account{address: address, feeRate: 1}
	f.accounts[address] = a
	return a
}

// Account is a scriptable ledger.Account.
type Account struct {
	address string

	mu        sync.Mutex
	unspents  []ledger.Unspent
	feeRate   int64
	sendErr   error
	unspErr   error
	sends     []SendCall
	feeCalls  int
	unspCalls int
}

func (a *Account) Address() string     { return a.address }
func (a *Account) KeyMaterial() string { return keyPrefix + a.address }

// SetBalance replaces the outputs with a single output of amount.
func (a *Account) SetBalance(amount int64, confirmations int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount == 0 {
		a.unspents = nil
		return
	}
	a.unspents = []ledger.Unspent{{TxID: "fake", Amount: amount, Confirmations: confirmations}}
}

// SetFeeRate sets the value EstimateFee returns.
func (a *Account) SetFeeRate(rate int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeRate = rate
}

// FailSend makes subsequent Send calls return err.
func (a *Account) FailSend(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendErr = err
}

// FailUnspents makes subsequent Unspents calls return err.
func (a *Account) FailUnspents(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unspErr = err
}

// Sends returns a copy of the recorded Send calls.
func (a *Account) Sends() []SendCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SendCall(nil), a.sends...)
}

// Calls counts every ledger interaction (unspents, fee and send).
func (a *Account) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unspCalls + a.feeCalls + len(a.sends)
}

func (a *Account) Unspents(context.Context) ([]ledger.Unspent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unspCalls++
	if a.unspErr != nil {
		return nil, a.unspErr
	}
	return append([]ledger.Unspent(nil), a.unspents...), nil
}

func (a *Account) EstimateFee(context.Context, bool) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeCalls++
	return a.feeRate, nil
}

// Send records the call. A failed send is recorded too.
func (a *Account) Send(_ context.Context, outputs []ledger.Output, leftover string, feeRate int64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, SendCall{
		Outputs:  append([]ledger.Output{}, outputs...),
		Leftover: leftover,
		FeeRate:  feeRate,
	})
	if a.sendErr != nil {
		return "", a.sendErr
	}
	return fmt.Sprintf("tx-%d", len(a.sends)), nil
}
