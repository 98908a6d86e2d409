// Package money provides the fixed-precision numeric primitives used for
// every balance, price, fee, and P&L figure in the engine.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The solvency and zero-sum properties the engine guarantees hold exactly
// only because arithmetic never leaves decimal.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a fixed-precision monetary value (cash, margin, fees, P&L).
type Amount = decimal.Decimal

// Price is a fixed-precision market price.
type Price = decimal.Decimal

// Scale is the number of decimal places retained for monetary values.
var Scale int32 = 8

// QtyScale is the number of decimal places retained for asset quantities.
// Matches a minimum quantity step of 0.00001.
var QtyScale int32 = 5

// Zero is the zero amount.
var Zero = decimal.Zero

// One is the unit amount.
var One = decimal.NewFromInt(1)

// Parse converts a decimal string into an Amount.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for literals known to be valid. Panics on error.
func MustParse(s string) Amount {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt converts an integer into an Amount.
func FromInt(i int64) Amount {
	return decimal.NewFromInt(i)
}

// FromFloat converts a float64 into an Amount. Use only at ingestion
// boundaries (CSV ticks, test literals), never mid-computation.
func FromFloat(f float64) Amount {
	return decimal.NewFromFloat(f)
}

// Round normalizes a monetary value to Scale decimal places.
func Round(a Amount) Amount {
	return a.Round(Scale)
}

// TruncateQty rounds a quantity down to the minimum quantity step.
// Truncation, not rounding: sizing an order up could overdraw the account.
func TruncateQty(q Amount) Amount {
	return q.RoundDown(QtyScale)
}

// CompoundFactor returns (1+rate)^periods - 1, the growth factor for
// deterministic compounding over an integer number of periods.
func CompoundFactor(rate Amount, periods int64) Amount {
	if periods <= 0 || rate.IsZero() {
		return decimal.Zero
	}
	base := One.Add(rate)
	return base.Pow(decimal.NewFromInt(periods)).Sub(One)
}
