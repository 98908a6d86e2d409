// Package liquidation computes forced-closure settlements for positions
// that breach maintenance margin. Liquidation is unconditional and
// non-retryable: once breached, closure always succeeds at the mark price.
//
// Settlement is isolated-margin: the loss is bounded by the position's
// allocated collateral, so account equity is never negative immediately
// after the sweep.
package liquidation

import (
	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/margin"
	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/money"
	"github.com/simex/risk-engine/internal/position"
)

// Settlement describes the outcome of one forced closure. Residual is what
// returns to the account's cash: margin plus (negative) P&L minus the
// liquidation fee, floored at zero.
type Settlement struct {
	Side     model.Side
	Size     decimal.Decimal
	Mark     decimal.Decimal
	Notional decimal.Decimal
	PnL      decimal.Decimal
	Fee      decimal.Decimal
	Residual decimal.Decimal
}

// Engine evaluates breaches and prices forced closures.
type Engine struct {
	calc *margin.Calculator
	fees margin.FeeSchedule
}

// NewEngine creates a liquidation engine sharing the margin calculator and
// fee schedule used on the trading path.
func NewEngine(calc *margin.Calculator, fees margin.FeeSchedule) *Engine {
	return &Engine{calc: calc, fees: fees}
}

// Breached reports whether the position must be force-closed at mark.
func (e *Engine) Breached(p *position.Position, mark decimal.Decimal) bool {
	return margin.Breached(p, mark)
}

// Settle prices the forced closure of p at mark. The position itself is
// untouched; the caller books the settlement and clears the book.
func (e *Engine) Settle(p *position.Position, mark decimal.Decimal) Settlement {
	notional := p.Size.Mul(mark)
	pnl := p.UnrealizedPnL(mark)
	fee := e.fees.LiquidationFee(notional)

	residual := p.Margin.Add(pnl).Sub(fee)
	if residual.IsNegative() {
		residual = decimal.Zero
	}

	return Settlement{
		Side:     p.Side,
		Size:     p.Size,
		Mark:     mark,
		Notional: notional,
		PnL:      pnl,
		Fee:      fee,
		Residual: money.Round(residual),
	}
}
