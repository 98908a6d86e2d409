package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/margin"
	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/money"
)

// applyOrder executes one order with validate-then-commit discipline:
// every check runs against current balances, and the ledger is mutated
// only once all checks pass. A rejection leaves all state untouched.
func (e *Engine) applyOrder(o *model.Order, ts time.Time, mark decimal.Decimal) OrderOutcome {
	acct, ok := e.accounts[o.Ref]
	if !ok {
		return errOutcome(o.Ref, model.RejectAccountNotOpen)
	}
	if !o.Side.Valid() {
		return errOutcome(o.Ref, model.RejectInvalidOrderSize)
	}

	if o.Ref.Account == model.AccountSpot {
		return e.applySpotOrder(acct, o, ts, mark)
	}
	return e.applyLeveragedOrder(acct, o, ts, mark)
}

// applySpotOrder handles the long-only, unleveraged, physically settled
// account: long buys the asset with cash, short sells held quantity.
func (e *Engine) applySpotOrder(acct *Account, o *model.Order, ts time.Time, mark decimal.Decimal) OrderOutcome {
	if o.Leverage > 1 {
		return errOutcome(o.Ref, model.RejectLeverageExceeded)
	}
	feeRate := e.fees.Rate(model.AccountSpot)

	if o.Side == model.SideShort {
		// Sell from holdings.
		size := money.TruncateQty(o.Size)
		if o.SizeAll {
			size = acct.Holdings
		}
		if size.LessThanOrEqual(decimal.Zero) || size.GreaterThan(acct.Holdings) {
			return errOutcome(o.Ref, model.RejectInvalidOrderSize)
		}

		notional := size.Mul(mark)
		fee := e.fees.TradeFee(model.AccountSpot, notional)

		_ = acct.Ledger.Credit(notional, "spot sell")
		_ = acct.Ledger.Debit(fee, "trade fee")
		acct.Holdings = acct.Holdings.Sub(size)

		return fillOutcome(newTrade(o.Ref, o.Side, size, mark, fee, e.tickIndex, ts))
	}

	// Buy. "All" sizes to the maximum quantity cash covers, fee included.
	size := money.TruncateQty(o.Size)
	if o.SizeAll {
		denom := mark.Mul(money.One.Add(feeRate))
		size = money.TruncateQty(acct.Ledger.Cash().Div(denom))
		if size.LessThanOrEqual(decimal.Zero) {
			return errOutcome(o.Ref, model.RejectInsufficientFunds)
		}
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return errOutcome(o.Ref, model.RejectInvalidOrderSize)
	}

	notional := size.Mul(mark)
	fee := e.fees.TradeFee(model.AccountSpot, notional)
	if acct.Ledger.Cash().LessThan(notional.Add(fee)) {
		return errOutcome(o.Ref, model.RejectInsufficientFunds)
	}

	_ = acct.Ledger.Debit(notional, "spot buy")
	_ = acct.Ledger.Debit(fee, "trade fee")
	acct.Holdings = acct.Holdings.Add(size)

	return fillOutcome(newTrade(o.Ref, o.Side, size, mark, fee, e.tickIndex, ts))
}

// applyLeveragedOrder handles margin and futures accounts. A same-side
// order opens or extends the position; an opposite-side order reduces it.
func (e *Engine) applyLeveragedOrder(acct *Account, o *model.Order, ts time.Time, mark decimal.Decimal) OrderOutcome {
	lev := o.Leverage
	if lev == 0 {
		lev = 1
	}
	if err := e.calc.ValidateLeverage(lev, acct.LeverageBound); err != nil {
		return errOutcome(o.Ref, model.RejectLeverageExceeded)
	}

	pos := acct.Book.Open()
	if pos != nil && o.Side != pos.Side {
		return e.reducePosition(acct, o, ts, mark)
	}
	if pos != nil {
		// Extending keeps the position's leverage; mixed-leverage margin
		// accounting is not supported.
		lev = pos.Leverage
	}

	feeRate := e.fees.Rate(o.Ref.Account)
	size := money.TruncateQty(o.Size)
	if o.SizeAll {
		// Largest quantity whose margin plus fee fits in cash:
		// cash / (mark/lev + mark×feeRate).
		levD := decimal.NewFromInt(int64(lev))
		denom := mark.Div(levD).Add(mark.Mul(feeRate))
		size = money.TruncateQty(acct.Ledger.Cash().Div(denom))
		if size.LessThanOrEqual(decimal.Zero) {
			return errOutcome(o.Ref, model.RejectInsufficientFunds)
		}
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return errOutcome(o.Ref, model.RejectInvalidOrderSize)
	}

	notional := size.Mul(mark)
	required := money.Round(margin.RequiredMargin(size, mark, lev))
	fee := e.fees.TradeFee(o.Ref.Account, notional)
	if acct.Ledger.Cash().LessThan(required.Add(fee)) {
		return errOutcome(o.Ref, model.RejectInsufficientFunds)
	}

	// Commit.
	_ = acct.Ledger.Debit(required, "margin allocation")
	_ = acct.Ledger.Debit(fee, "trade fee")
	updated, err := acct.Book.Add(o.Side, size, mark, required, lev)
	if err != nil {
		// Unreachable: side conflicts were routed to reducePosition.
		return errOutcome(o.Ref, model.RejectInvalidOrderSize)
	}
	if o.Ref.Account == model.AccountMargin {
		borrowed := notional.Sub(required)
		if borrowed.IsPositive() {
			_ = acct.Ledger.Borrow(borrowed, "margin loan")
		}
	}
	e.calc.Reprice(updated)

	return fillOutcome(newTrade(o.Ref, o.Side, size, mark, fee, e.tickIndex, ts))
}

// reducePosition shrinks or closes the open position with an opposite-side
// order, realizing P&L pro rata and repaying borrowed principal pro rata.
func (e *Engine) reducePosition(acct *Account, o *model.Order, ts time.Time, mark decimal.Decimal) OrderOutcome {
	pos := acct.Book.Open()

	size := money.TruncateQty(o.Size)
	if o.SizeAll {
		size = pos.Size
	}
	if size.LessThanOrEqual(decimal.Zero) || size.GreaterThan(pos.Size) {
		return errOutcome(o.Ref, model.RejectInvalidOrderSize)
	}

	notional := size.Mul(mark)
	fee := e.fees.TradeFee(o.Ref.Account, notional)
	pnl := money.Round(pos.UnrealizedPnL(mark).Mul(size).Div(pos.Size))
	repay := money.Round(acct.Ledger.Borrowed().Mul(size).Div(pos.Size))
	if size.Equal(pos.Size) {
		// Full close repays the principal exactly, no rounding dust.
		repay = acct.Ledger.Borrowed()
	}

	// A loss beyond the released collateral must still be covered by cash.
	// Otherwise the close is rejected and the breached position is left to
	// the liquidation sweep, which floors the loss at the collateral.
	expectRelease := pos.Margin
	if !size.Equal(pos.Size) {
		expectRelease = pos.Margin.Mul(size).Div(pos.Size)
	}
	shortfall := expectRelease.Add(pnl).Sub(fee)
	if shortfall.IsNegative() && acct.Ledger.Cash().Add(shortfall).IsNegative() {
		return errOutcome(o.Ref, model.RejectInsufficientFunds)
	}

	// Commit.
	released, err := acct.Book.Reduce(size)
	if err != nil {
		return errOutcome(o.Ref, model.RejectInvalidOrderSize)
	}
	if repay.IsPositive() {
		_ = acct.Ledger.Repay(repay, "margin loan repaid")
	}

	net := released.Add(pnl).Sub(fee)
	if net.IsPositive() {
		_ = acct.Ledger.Credit(net, "position reduced")
	} else if net.IsNegative() {
		acct.Ledger.ForceDebit(net.Neg(), "position reduced")
	}
	acct.Ledger.SettleInterest("interest settlement")
	e.calc.Reprice(acct.Book.Open())

	trade := newTrade(o.Ref, o.Side, size, mark, fee, e.tickIndex, ts)
	trade.RealizedPnL = pnl
	trade.Reduce = true
	return fillOutcome(trade)
}

func newTrade(ref model.AccountRef, side model.Side, size, price, fee decimal.Decimal, tickIndex int64, ts time.Time) *model.Trade {
	return &model.Trade{
		ID:          uuid.New().String(),
		UserID:      ref.UserID,
		Account:     ref.Account,
		Side:        side,
		Size:        size,
		Price:       price,
		Notional:    money.Round(size.Mul(price)),
		Fee:         fee,
		RealizedPnL: decimal.Zero,
		TickIndex:   tickIndex,
		Timestamp:   ts,
	}
}
