// Package valuation computes equity (net asset value) per account and per
// user from ledger balances and open-position mark-to-market P&L.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/money"
	"github.com/simex/risk-engine/internal/position"
)

// AccountView is the read-only input to an equity computation. Holdings is
// the raw asset quantity for spot accounts and zero otherwise.
type AccountView struct {
	Cash         decimal.Decimal
	InterestOwed decimal.Decimal
	FeesOwed     decimal.Decimal
	Holdings     decimal.Decimal
	Position     *position.Position
}

// Equity returns the account's net asset value at the given mark price:
// cash, plus allocated position margin and unrealized P&L, plus spot
// holdings valued at mark, minus interest and fees owed. Borrowed
// principal never entered cash, so it cancels against position exposure
// and does not appear here.
func Equity(v AccountView, mark decimal.Decimal) decimal.Decimal {
	eq := v.Cash.Sub(v.InterestOwed).Sub(v.FeesOwed)
	if v.Position != nil {
		eq = eq.Add(v.Position.Margin).Add(v.Position.UnrealizedPnL(mark))
	}
	if v.Holdings.IsPositive() {
		eq = eq.Add(v.Holdings.Mul(mark))
	}
	return money.Round(eq)
}

// UserEquity sums account equities for one user.
func UserEquity(views []AccountView, mark decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range views {
		total = total.Add(Equity(v, mark))
	}
	return total
}
