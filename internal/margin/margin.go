// Package margin implements leverage validation, required-margin and
// liquidation-price arithmetic, and the maintenance-margin breach check.
//
// Liquidation prices use the closed-form isolated-margin formulas:
//
//	long:  entry × (1 − 1/leverage + m)
//	short: entry × (1 + 1/leverage − m)
//
// where m is the maintenance margin ratio. They are recomputed whenever
// size, leverage, or entry price changes (averaging into a position shifts
// the entry price, hence the liquidation price).
package margin

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/position"
)

var (
	// ErrLeverageExceeded is returned when requested leverage is below 1
	// or above the account's configured bound.
	ErrLeverageExceeded = errors.New("margin: leverage outside account bound")

	// ErrLeverageUnsafe is returned when 1/leverage ≤ m, which would put a
	// long liquidation price at or above entry: the position would breach
	// maintenance margin in the tick that opened it.
	ErrLeverageUnsafe = errors.New("margin: leverage incompatible with maintenance margin ratio")

	// ErrInvalidMaintenanceRatio is returned when m is not in (0, 1).
	ErrInvalidMaintenanceRatio = errors.New("margin: maintenance margin ratio must be in (0, 1)")
)

// Calculator performs margin and liquidation arithmetic for one configured
// maintenance margin ratio. It is stateless — position data is passed as
// arguments, not stored.
type Calculator struct {
	maintenanceRatio decimal.Decimal
}

// NewCalculator creates a calculator with the given maintenance margin
// ratio m, 0 < m < 1.
func NewCalculator(maintenanceRatio decimal.Decimal) (*Calculator, error) {
	one := decimal.NewFromInt(1)
	if maintenanceRatio.LessThanOrEqual(decimal.Zero) || maintenanceRatio.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMaintenanceRatio, maintenanceRatio)
	}
	return &Calculator{maintenanceRatio: maintenanceRatio}, nil
}

// MaintenanceRatio returns the configured ratio.
func (c *Calculator) MaintenanceRatio() decimal.Decimal {
	return c.maintenanceRatio
}

// LeverageSafe reports whether a position opened at this leverage keeps
// its liquidation price on the correct side of entry: 1/leverage > m.
func LeverageSafe(leverage int, maintenanceRatio decimal.Decimal) bool {
	levM := decimal.NewFromInt(int64(leverage)).Mul(maintenanceRatio)
	return levM.LessThan(decimal.NewFromInt(1))
}

// ValidateLeverage checks requested leverage against the account bound and
// against the maintenance ratio.
func (c *Calculator) ValidateLeverage(requested, bound int) error {
	if requested < 1 || requested > bound {
		return fmt.Errorf("%w: requested %dx, bound %dx", ErrLeverageExceeded, requested, bound)
	}
	if !LeverageSafe(requested, c.maintenanceRatio) {
		return fmt.Errorf("%w: %dx at ratio %s", ErrLeverageUnsafe, requested, c.maintenanceRatio)
	}
	return nil
}

// RequiredMargin returns size × price / leverage, the collateral reserved
// when opening or extending a position.
func RequiredMargin(size, price decimal.Decimal, leverage int) decimal.Decimal {
	return size.Mul(price).Div(decimal.NewFromInt(int64(leverage)))
}

// LiquidationPrice computes the price at which the position breaches
// maintenance margin.
func (c *Calculator) LiquidationPrice(side model.Side, entry decimal.Decimal, leverage int) decimal.Decimal {
	one := decimal.NewFromInt(1)
	invLev := one.Div(decimal.NewFromInt(int64(leverage)))
	if side == model.SideLong {
		return entry.Mul(one.Sub(invLev).Add(c.maintenanceRatio))
	}
	return entry.Mul(one.Add(invLev).Sub(c.maintenanceRatio))
}

// Reprice recomputes and stores the position's liquidation price. Call
// after every size, leverage, or entry-price change.
func (c *Calculator) Reprice(p *position.Position) {
	if p == nil {
		return
	}
	p.LiquidationPrice = c.LiquidationPrice(p.Side, p.Entry, p.Leverage)
}

// Breached reports whether the mark price has crossed the position's
// liquidation price in the adverse direction.
func Breached(p *position.Position, mark decimal.Decimal) bool {
	if p == nil || p.Size.IsZero() {
		return false
	}
	if p.Side == model.SideLong {
		return mark.LessThanOrEqual(p.LiquidationPrice)
	}
	return mark.GreaterThanOrEqual(p.LiquidationPrice)
}
