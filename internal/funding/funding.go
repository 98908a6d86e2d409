// Package funding computes periodic funding-rate settlement for futures
// positions. Longs pay shorts when the rate is positive and vice versa;
// the exchange settles each holder bilaterally, so payments across equal
// opposite positions are exactly zero-sum.
package funding

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/money"
)

// ErrFundingDataMissing is returned when a settlement boundary is reached,
// the configuration requires a market-supplied funding rate, and the tick
// has none. The whole settlement for that tick is aborted — never applied
// partially, never silently skipped.
var ErrFundingDataMissing = errors.New("funding: funding rate missing at settlement boundary")

// Holder is one open futures position eligible for settlement. Holders are
// passed in the engine's fixed (user, account) order so payment records are
// reproducible.
type Holder struct {
	Ref  model.AccountRef
	Side model.Side
	Size decimal.Decimal
}

// Engine settles funding at fixed tick intervals.
type Engine struct {
	intervalTicks int64
	requireRate   bool
	defaultRate   decimal.Decimal
}

// NewEngine creates a funding engine. intervalTicks is the settlement
// period; defaultRate applies when a tick carries no rate and rates are
// not required.
func NewEngine(intervalTicks int64, requireRate bool, defaultRate decimal.Decimal) *Engine {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	return &Engine{
		intervalTicks: intervalTicks,
		requireRate:   requireRate,
		defaultRate:   defaultRate,
	}
}

// Due reports whether tickIndex is a settlement boundary.
func (e *Engine) Due(tickIndex int64) bool {
	return tickIndex > 0 && tickIndex%e.intervalTicks == 0
}

// Rate resolves the effective funding rate for a tick.
func (e *Engine) Rate(tickRate *decimal.Decimal) (decimal.Decimal, error) {
	if tickRate != nil {
		return *tickRate, nil
	}
	if e.requireRate {
		return decimal.Zero, ErrFundingDataMissing
	}
	return e.defaultRate, nil
}

// Settle computes one payment per holder at the given mark price. The
// result is all-or-nothing: an error means no payment may be applied.
//
// Payment sign is from the holder's perspective. For rate r > 0 a long of
// size q pays q×mark×r (negative payment) and a short receives it.
func (e *Engine) Settle(
	tickIndex int64,
	ts time.Time,
	mark decimal.Decimal,
	tickRate *decimal.Decimal,
	holders []Holder,
) ([]model.FundingPayment, error) {
	rate, err := e.Rate(tickRate)
	if err != nil {
		return nil, err
	}
	if rate.IsZero() || len(holders) == 0 {
		return nil, nil
	}

	payments := make([]model.FundingPayment, 0, len(holders))
	for _, h := range holders {
		amount := money.Round(h.Size.Mul(mark).Mul(rate))
		payment := amount
		if h.Side == model.SideLong {
			payment = amount.Neg()
		}
		payments = append(payments, model.FundingPayment{
			UserID:       h.Ref.UserID,
			Account:      h.Ref.Account,
			Side:         h.Side,
			PositionSize: h.Size,
			MarkPrice:    mark,
			FundingRate:  rate,
			Payment:      payment,
			TickIndex:    tickIndex,
			Timestamp:    ts,
		})
	}
	return payments, nil
}
