// Package aura implements the Aura ledger: credits, debits and the per-user
// append-only transaction log.
//
// Profile.AuraBalance is the canonical balance. Every change to it appends an
// AuraTransaction in the same ledger transaction, so the log is a complete
// audit trail and Reconcile can prove balance == sum(log).
package aura

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/aura-protocol/aura/internal/ledger"
	"github.com/aura-protocol/aura/pkg/protocol"
)

// ErrBalanceMismatch is returned by Reconcile when the balance and the log
// disagree.
var ErrBalanceMismatch = errors.New("aura: balance does not match transaction log")

// Ledger applies Aura movements to profiles.
type Ledger struct{}

// NewLedger creates a Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Credit adds amount to p's balance, stores p and appends the transaction.
// It emits AuraEarned.
func (l *Ledger) Credit(st *ledger.State, p *protocol.Profile, amount uint64, reason protocol.Reason, related *protocol.PairID) (*protocol.AuraTransaction, error) {
	if err := checkMovement(amount, reason); err != nil {
		return nil, err
	}
	if p.AuraBalance > math.MaxInt64-amount {
		return nil, fmt.Errorf("%w: credit of %d overflows balance %d", protocol.ErrInvalidInput, amount, p.AuraBalance)
	}

	p.AuraBalance += amount
	tx, err := l.record(st, p, int64(amount), reason, related)
	if err != nil {
		return nil, err
	}
	return tx, st.Emit(protocol.Event{
		Kind:          protocol.EventAuraEarned,
		Actor:         p.Owner,
		Pair:          pairOf(related),
		Amount:        amount,
		Reason:        reason,
		TransactionID: tx.ID,
	})
}

// Debit subtracts amount from p's balance, stores p and appends the
// transaction. It emits AuraSpent. A debit larger than the balance fails with
// protocol.ErrInsufficientBalance and changes nothing.
func (l *Ledger) Debit(st *ledger.State, p *protocol.Profile, amount uint64, reason protocol.Reason, related *protocol.PairID) (*protocol.AuraTransaction, error) {
	if err := checkMovement(amount, reason); err != nil {
		return nil, err
	}
	if p.AuraBalance < amount {
		return nil, fmt.Errorf("%w: %s has %d, needs %d", protocol.ErrInsufficientBalance, p.Owner, p.AuraBalance, amount)
	}

	p.AuraBalance -= amount
	tx, err := l.record(st, p, -int64(amount), reason, related)
	if err != nil {
		return nil, err
	}
	return tx, st.Emit(protocol.Event{
		Kind:          protocol.EventAuraSpent,
		Actor:         p.Owner,
		Pair:          pairOf(related),
		Amount:        amount,
		Reason:        reason,
		TransactionID: tx.ID,
	})
}

// Balance returns the canonical balance of user.
func (l *Ledger) Balance(st *ledger.State, user protocol.Address) (uint64, error) {
	p, err := st.Profile(user)
	if err != nil {
		return 0, err
	}
	return p.AuraBalance, nil
}

// History returns the user's transactions, oldest first.
func (l *Ledger) History(st *ledger.State, user protocol.Address) ([]protocol.AuraTransaction, error) {
	if _, err := st.Profile(user); err != nil {
		return nil, err
	}
	return st.Transactions(user)
}

// Reconcile checks that the balance equals the sum of the log and that every
// entry's BalanceAfter matches the running sum.
func (l *Ledger) Reconcile(st *ledger.State, user protocol.Address) error {
	p, err := st.Profile(user)
	if err != nil {
		return err
	}
	txs, err := st.Transactions(user)
	if err != nil {
		return err
	}

	var sum int64
	for i, tx := range txs {
		sum += tx.Amount
		if sum < 0 {
			return fmt.Errorf("%w: running sum negative at entry %d", ErrBalanceMismatch, i)
		}
		if uint64(sum) != tx.BalanceAfter {
			return fmt.Errorf("%w: entry %d records %d, running sum %d", ErrBalanceMismatch, i, tx.BalanceAfter, sum)
		}
	}
	if uint64(sum) != p.AuraBalance {
		return fmt.Errorf("%w: balance %d, log sum %d", ErrBalanceMismatch, p.AuraBalance, sum)
	}
	return nil
}

func (l *Ledger) record(st *ledger.State, p *protocol.Profile, amount int64, reason protocol.Reason, related *protocol.PairID) (*protocol.AuraTransaction, error) {
	if err := st.PutProfile(p); err != nil {
		return nil, err
	}
	tx := protocol.AuraTransaction{
		ID:           uuid.NewString(),
		User:         p.Owner,
		Amount:       amount,
		Reason:       reason,
		Timestamp:    st.Now(),
		RelatedMatch: related,
		BalanceAfter: p.AuraBalance,
	}
	if err := st.AppendTransaction(tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func checkMovement(amount uint64, reason protocol.Reason) error {
	if amount == 0 || amount > math.MaxInt64 {
		return fmt.Errorf("%w: %d", protocol.ErrInvalidAmount, amount)
	}
	if !reason.Valid() {
		return fmt.Errorf("%w: %d", protocol.ErrInvalidReason, int(reason))
	}
	return nil
}

func pairOf(related *protocol.PairID) protocol.PairID {
	if related == nil {
		return ""
	}
	return *related
}
