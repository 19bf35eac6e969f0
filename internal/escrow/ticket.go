package escrow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cashplace/escrow/internal/domain"
	"github.com/cashplace/escrow/internal/events"
	"github.com/cashplace/escrow/internal/ledger"
	apperrors "github.com/cashplace/escrow/pkg/util/errorutil"
)

// payoutMaxVSize bounds the size of a two-output payout used to decide
// whether the balance covers the worst-case fee.
const payoutMaxVSize = 181 + 3*34 + 10

// Ticket is one escrow between a spender and a receiver. All methods are
// safe for concurrent use; ledger calls hold only this ticket's lock.
type Ticket struct {
	mu sync.Mutex

	env      *environment
	currency *Currency
	account  ledger.Account

	id              string
	amount          int64
	spenderHash     *string
	spenderCode     string
	receiverHash    *string
	receiverCode    string
	master          domain.MasterRole
	leftoverAddress string
	receiverAddress string
	status          domain.TicketStatus
	lastUpdate      time.Time

	balance int64
	closed  bool
}

// View is a read-only snapshot of a ticket.
type View struct {
	ID              string
	Kind            string
	Amount          int64
	Balance         int64
	Status          domain.TicketStatus
	Master          domain.MasterRole
	SpenderClaimed  bool
	ReceiverClaimed bool
	LeftoverAddress string
	ReceiverAddress string
	LastUpdate      time.Time
}

// newCapabilityCode returns a random v4 UUID: 122 bits from crypto/rand.
func newCapabilityCode() (string, error) {
	code, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return code.String(), nil
}

func newTicket(env *environment, currency *Currency, account ledger.Account) (*Ticket, error) {
	spenderCode, err := newCapabilityCode()
	if err != nil {
		return nil, fmt.Errorf("spender code: %w", err)
	}
	receiverCode := spenderCode
	for receiverCode == spenderCode {
		if receiverCode, err = newCapabilityCode(); err != nil {
			return nil, fmt.Errorf("receiver code: %w", err)
		}
	}
	return &Ticket{
		env:          env,
		currency:     currency,
		account:      account,
		id:           account.Address(),
		spenderCode:  spenderCode,
		receiverCode: receiverCode,
		status:       domain.TicketStatusConfiguration,
		lastUpdate:   env.now(),
	}, nil
}

func ticketFromRecord(env *environment, currency *Currency, account ledger.Account, record domain.TicketRecord) (*Ticket, error) {
	status := domain.TicketStatus(record.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %d", record.Status)
	}
	if record.SpenderCode == "" || record.ReceiverCode == "" || record.SpenderCode == record.ReceiverCode {
		return nil, errors.New("missing or colliding capability codes")
	}
	return &Ticket{
		env:             env,
		currency:        currency,
		account:         account,
		id:              account.Address(),
		amount:          record.Amount,
		spenderHash:     cloneString(record.SpenderHash),
		spenderCode:     record.SpenderCode,
		receiverHash:    cloneString(record.ReceiverHash),
		receiverCode:    record.ReceiverCode,
		master:          domain.MasterFromFlag(record.MasterIsSpender),
		leftoverAddress: record.LeftoverAddress,
		receiverAddress: record.ReceiverAddress,
		status:          status,
		lastUpdate:      domain.FromEpochSeconds(record.LastUpdate),
	}, nil
}

// ID is the custody address; it never changes.
func (t *Ticket) ID() string { return t.id }

// Kind is the currency kind tag.
func (t *Ticket) Kind() string { return t.currency.Factory.Kind() }

// SpenderCode is the spender's capability token.
func (t *Ticket) SpenderCode() string { return t.spenderCode }

// ReceiverCode is the receiver's capability token.
func (t *Ticket) ReceiverCode() string { return t.receiverCode }

// Status returns the current status.
func (t *Ticket) Status() domain.TicketStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// LastUpdate returns the time of the last mutation.
func (t *Ticket) LastUpdate() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUpdate
}

// View returns a snapshot of the ticket.
func (t *Ticket) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return View{
		ID:              t.id,
		Kind:            t.Kind(),
		Amount:          t.amount,
		Balance:         t.balance,
		Status:          t.status,
		Master:          t.master,
		SpenderClaimed:  t.spenderHash != nil,
		ReceiverClaimed: t.receiverHash != nil,
		LeftoverAddress: t.leftoverAddress,
		ReceiverAddress: t.receiverAddress,
		LastUpdate:      t.lastUpdate,
	}
}

// Record returns the persisted form of the ticket.
func (t *Ticket) Record() domain.TicketRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked()
}

func (t *Ticket) recordLocked() domain.TicketRecord {
	return domain.TicketRecord{
		ID:              t.id,
		Kind:            t.Kind(),
		Amount:          t.amount,
		KeyMaterial:     t.account.KeyMaterial(),
		SpenderHash:     cloneString(t.spenderHash),
		SpenderCode:     t.spenderCode,
		ReceiverHash:    cloneString(t.receiverHash),
		ReceiverCode:    t.receiverCode,
		MasterIsSpender: t.master.Flag(),
		LeftoverAddress: t.leftoverAddress,
		ReceiverAddress: t.receiverAddress,
		Status:          int(t.status),
		LastUpdate:      domain.EpochSeconds(t.lastUpdate),
	}
}

// RoleForCode resolves a capability code to the role it grants.
func (t *Ticket) RoleForCode(code string) (domain.Role, bool) {
	switch {
	case code == "":
		return "", false
	case subtle.ConstantTimeCompare([]byte(code), []byte(t.spenderCode)) == 1:
		return domain.RoleSpender, true
	case subtle.ConstantTimeCompare([]byte(code), []byte(t.receiverCode)) == 1:
		return domain.RoleReceiver, true
	default:
		return "", false
	}
}

// VerifyPassword authenticates role with secret. The first call for a role
// stores the hash of secret instead of comparing; if the other role has no
// hash yet, role becomes the master. Later calls compare and, on success,
// replace a hash weaker than the configured parameters.
func (t *Ticket) VerifyPassword(ctx context.Context, secret string, role domain.Role) error {
	if secret == "" {
		return apperrors.NewUnauthorized("a password is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	target, other := &t.receiverHash, t.spenderHash
	if role.IsSpender() {
		target, other = &t.spenderHash, t.receiverHash
	}

	if *target == nil {
		hash, err := t.env.hasher.Hash(secret)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		prevMaster := t.master
		*target = &hash
		if other == nil {
			t.master = domain.MasterFromRole(role)
		}
		if err := t.save(ctx); err != nil {
			*target = nil
			t.master = prevMaster
			return err
		}
		return nil
	}

	ok, err := t.env.hasher.Verify(**target, secret)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if !ok {
		return apperrors.NewUnauthorized("wrong password")
	}
	if t.env.hasher.NeedsRehash(**target) {
		hash, err := t.env.hasher.Hash(secret)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		*target = &hash
	}
	return t.update(ctx)
}

// SetAmount sizes the escrow. Only allowed while configuring and never
// below the minimal amount.
func (t *Ticket) SetAmount(ctx context.Context, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkConfiguring("set amount"); err != nil {
		return err
	}
	minimal, err := t.minimalAmountLocked(ctx)
	if err != nil {
		return err
	}
	if amount < minimal {
		return apperrors.NewValidationError("amount below minimal amount",
			map[string]any{"amount": amount, "minimal": minimal})
	}
	t.amount = amount
	return t.update(ctx)
}

// SetLeftoverAddress sets where refunds and change go.
func (t *Ticket) SetLeftoverAddress(ctx context.Context, address string) error {
	return t.setAddress(ctx, "set leftover address", address, &t.leftoverAddress)
}

// SetReceiverAddress sets where the payout goes.
func (t *Ticket) SetReceiverAddress(ctx context.Context, address string) error {
	return t.setAddress(ctx, "set receiver address", address, &t.receiverAddress)
}

func (t *Ticket) setAddress(ctx context.Context, op, address string, field *string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkConfiguring(op); err != nil {
		return err
	}
	if err := t.currency.Factory.ValidateAddress(address); err != nil {
		return apperrors.NewValidationError("invalid address", map[string]any{"address": address, "reason": err.Error()})
	}
	*field = address
	return t.update(ctx)
}

// CompleteConfiguration opens the ticket for deposits.
func (t *Ticket) CompleteConfiguration(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkConfiguring("complete configuration"); err != nil {
		return err
	}
	var missing []string
	if t.amount <= 0 {
		missing = append(missing, "amount")
	}
	if t.leftoverAddress == "" {
		missing = append(missing, "leftover_address")
	}
	if t.receiverAddress == "" {
		missing = append(missing, "receiver_address")
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("configuration incomplete", map[string]any{"missing": missing})
	}
	_, err := t.apply(ctx, Event{Trigger: TriggerConfigured}, true)
	return err
}

// MinimalAmount is the smallest amount worth escrowing at the current fee.
func (t *Ticket) MinimalAmount(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minimalAmountLocked(ctx)
}

func (t *Ticket) minimalAmountLocked(ctx context.Context) (int64, error) {
	fee, err := t.account.EstimateFee(ctx, false)
	if err != nil {
		return 0, apperrors.NewLedgerFailure("fee estimate", err)
	}
	p := t.currency.Payout
	return p.StaticMinimal + p.RelativeMinimal*fee, nil
}

// RefreshBalance polls the confirmed balance and applies the balance rules.
// The poll itself counts as activity and always refreshes last_update.
func (t *Ticket) RefreshBalance(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if err := t.refreshBalanceLocked(ctx); err != nil {
		return 0, err
	}
	return t.balance, nil
}

func (t *Ticket) refreshBalanceLocked(ctx context.Context) error {
	unspents, err := t.account.Unspents(ctx)
	if err != nil {
		return apperrors.NewLedgerFailure("balance", err)
	}
	t.balance = ledger.ConfirmedBalance(unspents, t.currency.Payout.Confirmations)

	ev := Event{Trigger: TriggerBalance, Balance: t.balance, Amount: t.amount}
	if t.status == domain.TicketStatusSending {
		ev = Event{Trigger: TriggerSendCheck}
	}
	if _, err := t.apply(ctx, ev, false); err != nil {
		return err
	}
	return t.update(ctx)
}

// Finalize pays the operator fee and the receiver. When the balance cannot
// cover the worst-case fee of a two-output transaction, the transfer amount
// goes to the master address in a single output and everything else goes
// back to the receiver as change.
//
// The internal balance refresh commits its own transition before the status
// check: a ticket in SENDING moves to DISPUTE and the returned
// INVALID_TRANSITION error carries that new status in its details.
func (t *Ticket) Finalize(ctx context.Context, fast bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return "", err
	}
	if err := t.refreshBalanceLocked(ctx); err != nil {
		return "", err
	}
	if t.status != domain.TicketStatusReceived {
		return "", apperrors.NewInvalidTransition("finalize", t.status.String())
	}

	fee, err := t.account.EstimateFee(ctx, fast)
	if err != nil {
		return "", apperrors.NewLedgerFailure("fee estimate", err)
	}
	payout := t.currency.Payout
	operatorFee := max(int64(float64(t.amount)*(1-payout.Rate)), 1)
	transfer := max(int64(float64(t.amount)*payout.Rate), 1)

	var outputs []ledger.Output
	leftover := t.leftoverAddress
	if t.balance-payoutMaxVSize*fee > t.amount {
		outputs = []ledger.Output{
			{Address: payout.MasterAddress, Amount: operatorFee},
			{Address: t.receiverAddress, Amount: transfer},
		}
	} else {
		outputs = []ledger.Output{{Address: payout.MasterAddress, Amount: transfer}}
		leftover = t.receiverAddress
	}

	txid, err := t.account.Send(ctx, outputs, leftover, fee)
	if err != nil {
		return "", apperrors.NewLedgerFailure("payout", err)
	}
	t.env.logger.Info("payout broadcast",
		zap.String("ticket_id", t.id), zap.String("txid", txid), zap.Int("outputs", len(outputs)))
	if _, err := t.apply(ctx, Event{Trigger: TriggerPayout}, true); err != nil {
		return txid, err
	}
	return txid, nil
}

// Cancel refunds every custodied unit to the leftover address. An empty
// custody address is not an error.
func (t *Ticket) Cancel(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	return t.cancelLocked(ctx)
}

func (t *Ticket) cancelLocked(ctx context.Context) error {
	if t.leftoverAddress == "" {
		return apperrors.NewValidationError("no leftover address to refund to", map[string]any{"ticket_id": t.id})
	}
	fee, err := t.account.EstimateFee(ctx, false)
	if err != nil {
		return apperrors.NewLedgerFailure("fee estimate", err)
	}
	txid, err := t.account.Send(ctx, nil, t.leftoverAddress, fee)
	if errors.Is(err, ledger.ErrNoFunds) {
		t.env.logger.Info("nothing to refund", zap.String("ticket_id", t.id))
		return nil
	}
	if err != nil {
		return apperrors.NewLedgerFailure("refund", err)
	}
	t.env.logger.Info("refund broadcast", zap.String("ticket_id", t.id), zap.String("txid", txid))
	return nil
}

// expiryResult is what one sweep visit did to a ticket.
type expiryResult int

const (
	expiryUntouched expiryResult = iota
	expiryBusy
	expiryAdvanced
	expiryRemoved
)

// expire applies the expiry policy at now. A ticket whose lock is held by a
// running action is left for the next sweep. On expiryRemoved the ticket is
// closed and any refund has already gone out; a failed refund leaves the
// ticket untouched.
func (t *Ticket) expire(ctx context.Context, now time.Time) (expiryResult, domain.TicketStatus, error) {
	if !t.mu.TryLock() {
		return expiryBusy, 0, nil
	}
	defer t.mu.Unlock()
	if t.closed {
		return expiryUntouched, t.status, nil
	}
	elapsed := now.Sub(t.lastUpdate)
	outcome := Transition(t.status, Event{Trigger: TriggerExpiry, Elapsed: elapsed}, t.env.policy)
	if outcome.Refund {
		if err := t.cancelLocked(ctx); err != nil {
			return expiryUntouched, t.status, err
		}
	}
	if outcome.Remove {
		t.closed = true
		return expiryRemoved, t.status, nil
	}
	if outcome.Changed {
		if err := t.setStatus(ctx, outcome.Next, true, TriggerExpiry.String()); err != nil {
			return expiryAdvanced, t.status, err
		}
		return expiryAdvanced, t.status, nil
	}
	return expiryUntouched, t.status, nil
}

// apply runs the transition table for ev and commits the resulting status.
func (t *Ticket) apply(ctx context.Context, ev Event, update bool) (Outcome, error) {
	outcome := Transition(t.status, ev, t.env.policy)
	if !outcome.Changed {
		return outcome, nil
	}
	return outcome, t.setStatus(ctx, outcome.Next, update, ev.Trigger.String())
}

// setStatus is the only writer of t.status.
func (t *Ticket) setStatus(ctx context.Context, next domain.TicketStatus, update bool, reason string) error {
	prev := t.status
	t.status = next
	t.env.logger.Info("ticket status changed",
		zap.String("ticket_id", t.id),
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
		zap.String("reason", reason))
	t.env.publish(ctx, events.EventTicketStatusChanged, t.id, events.TicketStatusChangedPayload{
		OldStatus: prev,
		NewStatus: next,
		Reason:    reason,
	})
	if update {
		return t.update(ctx)
	}
	return nil
}

func (t *Ticket) update(ctx context.Context) error {
	t.lastUpdate = t.env.now()
	return t.save(ctx)
}

func (t *Ticket) save(ctx context.Context) error {
	if err := t.env.store.Save(ctx, t.recordLocked()); err != nil {
		return apperrors.NewInternalError(fmt.Errorf("save ticket %s: %w", t.id, err))
	}
	return nil
}

// close marks the ticket as removed so no further action reaches it.
func (t *Ticket) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *Ticket) checkOpen() error {
	if t.closed {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": t.id})
	}
	return nil
}

func (t *Ticket) checkConfiguring(op string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.status != domain.TicketStatusConfiguration {
		return apperrors.NewInvalidTransition(op, t.status.String())
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
