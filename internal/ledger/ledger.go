// Package ledger implements per-account cash bookkeeping: cash balance,
// borrowed principal, accrued interest, and owed fees.
//
// The ledger is pure arithmetic. Leverage and margin checks that need
// position context live in internal/margin; callers validate against a
// snapshot and only then mutate (validate-then-commit). Every mutation is
// recorded as a delta for auditability.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/money"
)

var (
	// ErrInsufficientFunds is returned when a debit would drive cash
	// below zero.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrNonPositiveAmount is returned when an operation receives a zero
	// or negative amount.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")

	// ErrExcessRepay is returned when a repayment exceeds the borrowed
	// principal.
	ErrExcessRepay = errors.New("ledger: repay exceeds borrowed principal")
)

// Ledger holds one account's balances. Borrowed principal is lent directly
// into the position and never credited to cash, so cash only moves on
// explicit credits and debits.
type Ledger struct {
	cash         decimal.Decimal
	borrowed     decimal.Decimal
	interestOwed decimal.Decimal
	feesOwed     decimal.Decimal

	deltas []model.LedgerDelta
}

// New creates a ledger with the given starting cash.
func New(initialCash decimal.Decimal) *Ledger {
	return &Ledger{cash: initialCash}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// Borrowed returns the outstanding borrowed principal.
func (l *Ledger) Borrowed() decimal.Decimal { return l.borrowed }

// InterestOwed returns interest accrued but not yet settled.
func (l *Ledger) InterestOwed() decimal.Decimal { return l.interestOwed }

// FeesOwed returns fees charged but not yet collected from cash.
func (l *Ledger) FeesOwed() decimal.Decimal { return l.feesOwed }

// Deltas returns a copy of the audit log.
func (l *Ledger) Deltas() []model.LedgerDelta {
	out := make([]model.LedgerDelta, len(l.deltas))
	copy(out, l.deltas)
	return out
}

func (l *Ledger) record(field string, delta decimal.Decimal, reason string) {
	l.deltas = append(l.deltas, model.LedgerDelta{Field: field, Delta: delta, Reason: reason})
}

// Credit adds amount to cash.
func (l *Ledger) Credit(amount decimal.Decimal, reason string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: credit %s", ErrNonPositiveAmount, amount)
	}
	l.cash = l.cash.Add(amount)
	l.record("cash", amount, reason)
	return nil
}

// Debit removes amount from cash. Fails with ErrInsufficientFunds if cash
// would go negative; settlement paths that may legitimately push a
// leveraged account's cash negative use ForceDebit instead.
func (l *Ledger) Debit(amount decimal.Decimal, reason string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: debit %s", ErrNonPositiveAmount, amount)
	}
	if l.cash.LessThan(amount) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, amount, l.cash)
	}
	l.cash = l.cash.Sub(amount)
	l.record("cash", amount.Neg(), reason)
	return nil
}

// ForceDebit removes amount from cash without the solvency check. Used only
// inside the single-tick window between a liquidation trigger and its
// settlement, and for interest settlement on leveraged accounts.
func (l *Ledger) ForceDebit(amount decimal.Decimal, reason string) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return
	}
	l.cash = l.cash.Sub(amount)
	l.record("cash", amount.Neg(), reason)
}

// Borrow increases borrowed principal. The principal funds the position
// directly and is not credited to cash.
func (l *Ledger) Borrow(amount decimal.Decimal, reason string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: borrow %s", ErrNonPositiveAmount, amount)
	}
	l.borrowed = l.borrowed.Add(amount)
	l.record("borrowed", amount, reason)
	return nil
}

// Repay reduces borrowed principal.
func (l *Ledger) Repay(amount decimal.Decimal, reason string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: repay %s", ErrNonPositiveAmount, amount)
	}
	if amount.GreaterThan(l.borrowed) {
		return fmt.Errorf("%w: repay %s, borrowed %s", ErrExcessRepay, amount, l.borrowed)
	}
	l.borrowed = l.borrowed.Sub(amount)
	l.record("borrowed", amount.Neg(), reason)
	return nil
}

// AccrueInterest compounds interest on the outstanding borrowed principal
// plus already-accrued interest over elapsedTicks periods. Returns the
// newly accrued amount. No-op when nothing is borrowed.
func (l *Ledger) AccrueInterest(ratePerTick decimal.Decimal, elapsedTicks int64) decimal.Decimal {
	if l.borrowed.IsZero() || elapsedTicks <= 0 || ratePerTick.IsZero() {
		return decimal.Zero
	}
	principal := l.borrowed.Add(l.interestOwed)
	accrued := money.Round(principal.Mul(money.CompoundFactor(ratePerTick, elapsedTicks)))
	if accrued.IsZero() {
		return decimal.Zero
	}
	l.interestOwed = l.interestOwed.Add(accrued)
	l.record("interest_owed", accrued, "interest accrual")
	return accrued
}

// SettleInterest moves all accrued interest out of cash. Returns the amount
// settled. Leveraged accounts may go transiently negative here; the
// position collateral covers it.
func (l *Ledger) SettleInterest(reason string) decimal.Decimal {
	settled := l.interestOwed
	if settled.IsZero() {
		return decimal.Zero
	}
	l.interestOwed = decimal.Zero
	l.record("interest_owed", settled.Neg(), reason)
	l.ForceDebit(settled, reason)
	return settled
}

// WriteOffDebt clears borrowed principal and accrued interest without
// touching cash. Used when a liquidation absorbs the position and its
// financing in one settlement.
func (l *Ledger) WriteOffDebt(reason string) {
	if l.borrowed.IsPositive() {
		l.record("borrowed", l.borrowed.Neg(), reason)
		l.borrowed = decimal.Zero
	}
	if l.interestOwed.IsPositive() {
		l.record("interest_owed", l.interestOwed.Neg(), reason)
		l.interestOwed = decimal.Zero
	}
}

// AddFeeOwed books a fee that could not be collected from cash.
func (l *Ledger) AddFeeOwed(amount decimal.Decimal, reason string) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return
	}
	l.feesOwed = l.feesOwed.Add(amount)
	l.record("fees_owed", amount, reason)
}
