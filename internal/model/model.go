// Package model defines the core domain types shared across the risk engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the closed set of account variants.
type AccountType string

const (
	AccountSpot    AccountType = "spot"
	AccountMargin  AccountType = "margin"
	AccountFutures AccountType = "futures"
)

// AccountTypes lists all variants in processing order. Every per-tick
// iteration over account types uses this slice so outcomes are reproducible.
var AccountTypes = []AccountType{AccountSpot, AccountMargin, AccountFutures}

// Valid reports whether t is a recognized account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountSpot, AccountMargin, AccountFutures:
		return true
	}
	return false
}

// Leveraged reports whether the account type holds leveraged positions.
func (t AccountType) Leveraged() bool {
	return t == AccountMargin || t == AccountFutures
}

// Rank returns the fixed ordering index of the account type.
func (t AccountType) Rank() int {
	for i, at := range AccountTypes {
		if at == t {
			return i
		}
	}
	return len(AccountTypes)
}

// Side is the direction of an order or position.
// Spot accounts are long-only: SideLong buys, SideShort sells holdings.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a recognized side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Order is an intended trade for one (user, account) pair in one tick.
type Order struct {
	Ref      AccountRef      `json:"ref"`
	Side     Side            `json:"side"`
	Size     decimal.Decimal `json:"size"`
	SizeAll  bool            `json:"size_all,omitempty"` // size to the account's maximum
	Leverage int             `json:"leverage,omitempty"`  // ignored for spot
}

// Trade is an immutable record of a fill. Once created, trades are never
// modified or deleted.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Account     AccountType     `json:"account" db:"account"`
	Side        Side            `json:"side" db:"side"`
	Size        decimal.Decimal `json:"size" db:"size"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Notional    decimal.Decimal `json:"notional" db:"notional"`
	Fee         decimal.Decimal `json:"fee" db:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	Reduce      bool            `json:"reduce" db:"reduce"`           // closes or shrinks an open position
	Liquidation bool            `json:"liquidation" db:"liquidation"` // forced closure by the liquidation sweep
	TickIndex   int64           `json:"tick_index" db:"tick_index"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// Tick is one market data record. Mark price is the close by convention.
type Tick struct {
	Timestamp   time.Time        `json:"timestamp"`
	Open        decimal.Decimal  `json:"open"`
	High        decimal.Decimal  `json:"high"`
	Low         decimal.Decimal  `json:"low"`
	Close       decimal.Decimal  `json:"close"`
	Volume      decimal.Decimal  `json:"volume"`
	FundingRate *decimal.Decimal `json:"funding_rate,omitempty"` // nil when the feed supplies none
}

// Mark returns the valuation price for the tick.
func (t Tick) Mark() decimal.Decimal {
	return t.Close
}

// FundingPayment records one settlement leg for one futures position.
// Payment is signed from the holder's perspective: positive = received.
type FundingPayment struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Account      AccountType     `json:"account" db:"account"`
	Side         Side            `json:"side" db:"side"`
	PositionSize decimal.Decimal `json:"position_size" db:"position_size"`
	MarkPrice    decimal.Decimal `json:"mark_price" db:"mark_price"`
	FundingRate  decimal.Decimal `json:"funding_rate" db:"funding_rate"`
	Payment      decimal.Decimal `json:"payment" db:"payment"`
	TickIndex    int64           `json:"tick_index" db:"tick_index"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// LedgerDelta is one audited mutation of a ledger field.
type LedgerDelta struct {
	Field  string          `json:"field"` // cash, borrowed, interest_owed, fees_owed
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason"`
}

// EquityPoint is one sample of an account's equity trajectory.
type EquityPoint struct {
	Ref       AccountRef      `json:"ref"`
	TickIndex int64           `json:"tick_index" db:"tick_index"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Equity    decimal.Decimal `json:"equity" db:"equity"`
}

// RejectReason classifies why an order was refused. Rejections are
// outcomes, not engine failures: the ledger is untouched.
type RejectReason string

const (
	RejectInsufficientFunds    RejectReason = "insufficient_funds"
	RejectLeverageExceeded     RejectReason = "leverage_exceeded"
	RejectInvalidOrderSize     RejectReason = "invalid_order_size"
	RejectDuplicateOrderInTick RejectReason = "duplicate_order_in_tick"
	RejectAccountNotOpen       RejectReason = "account_not_open"
)
