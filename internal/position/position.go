// Package position implements the per-account position book for margin and
// futures accounts. A book holds zero or one open position; same-direction
// fills average into it, opposite-direction fills reduce it.
package position

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/model"
)

var (
	// ErrSideConflict is returned when an add does not match the open
	// position's side. Reductions go through Reduce, never Add.
	ErrSideConflict = errors.New("position: side conflicts with open position")

	// ErrReduceExceedsSize is returned when a reduction is larger than
	// the open position.
	ErrReduceExceedsSize = errors.New("position: reduction exceeds open size")

	// ErrNoPosition is returned when an operation requires an open
	// position and the book is flat.
	ErrNoPosition = errors.New("position: no open position")
)

// Position is one open leveraged position.
type Position struct {
	Side             model.Side      `json:"side"`
	Size             decimal.Decimal `json:"size"`
	Entry            decimal.Decimal `json:"entry"` // volume-weighted average entry price
	Leverage         int             `json:"leverage"`
	Margin           decimal.Decimal `json:"margin"` // collateral allocated from cash
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
}

// Notional returns size × entry price.
func (p *Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.Entry)
}

// UnrealizedPnL returns the mark-to-market P&L at the given price.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p == nil || p.Size.IsZero() {
		return decimal.Zero
	}
	diff := mark.Sub(p.Entry)
	if p.Side == model.SideShort {
		diff = diff.Neg()
	}
	return p.Size.Mul(diff)
}

// Book holds at most one open position.
type Book struct {
	pos *Position
}

// NewBook creates an empty (flat) book.
func NewBook() *Book {
	return &Book{}
}

// Open returns the open position, or nil when flat. The returned value is
// the live position; only the trading and liquidation paths may mutate it.
func (b *Book) Open() *Position {
	return b.pos
}

// Flat reports whether the book has no open position.
func (b *Book) Flat() bool {
	return b.pos == nil
}

// Add opens a position or averages into an existing same-side one.
// Entry price becomes the volume-weighted average; the caller recomputes
// the liquidation price afterwards since entry, size, or leverage changed.
func (b *Book) Add(side model.Side, size, price, margin decimal.Decimal, leverage int) (*Position, error) {
	if size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("position: add size %s must be positive", size)
	}
	if b.pos == nil {
		b.pos = &Position{
			Side:     side,
			Size:     size,
			Entry:    price,
			Leverage: leverage,
			Margin:   margin,
		}
		return b.pos, nil
	}
	if b.pos.Side != side {
		return nil, fmt.Errorf("%w: open %s, add %s", ErrSideConflict, b.pos.Side, side)
	}

	oldNotional := b.pos.Notional()
	addNotional := size.Mul(price)
	newSize := b.pos.Size.Add(size)

	b.pos.Entry = oldNotional.Add(addNotional).Div(newSize)
	b.pos.Size = newSize
	b.pos.Margin = b.pos.Margin.Add(margin)
	b.pos.Leverage = leverage
	return b.pos, nil
}

// Reduce shrinks the open position by size, releasing margin pro rata.
// Returns the released margin. A full reduction leaves the book flat.
func (b *Book) Reduce(size decimal.Decimal) (decimal.Decimal, error) {
	if b.pos == nil {
		return decimal.Zero, ErrNoPosition
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("position: reduce size %s must be positive", size)
	}
	if size.GreaterThan(b.pos.Size) {
		return decimal.Zero, fmt.Errorf("%w: reduce %s, open %s", ErrReduceExceedsSize, size, b.pos.Size)
	}

	if size.Equal(b.pos.Size) {
		released := b.pos.Margin
		b.pos = nil
		return released, nil
	}

	released := b.pos.Margin.Mul(size).Div(b.pos.Size)
	b.pos.Margin = b.pos.Margin.Sub(released)
	b.pos.Size = b.pos.Size.Sub(size)
	return released, nil
}

// Clear drops the open position unconditionally. Used by forced liquidation,
// where the settlement is computed before the book is touched.
func (b *Book) Clear() {
	b.pos = nil
}
