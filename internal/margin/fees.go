package margin

import (
	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/money"
)

// FeeSchedule holds per-account-type trading fee rates plus the
// liquidation fee rate, which is typically higher than the trading rate.
type FeeSchedule struct {
	Spot        decimal.Decimal
	Margin      decimal.Decimal
	Futures     decimal.Decimal
	Liquidation decimal.Decimal
}

// DefaultFeeSchedule mirrors common exchange taker rates: 0.1% spot and
// margin, 0.04% futures, 0.5% on forced liquidation.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Spot:        money.MustParse("0.001"),
		Margin:      money.MustParse("0.001"),
		Futures:     money.MustParse("0.0004"),
		Liquidation: money.MustParse("0.005"),
	}
}

// Rate returns the trading fee rate for the account type.
func (s FeeSchedule) Rate(t model.AccountType) decimal.Decimal {
	switch t {
	case model.AccountSpot:
		return s.Spot
	case model.AccountMargin:
		return s.Margin
	case model.AccountFutures:
		return s.Futures
	}
	return decimal.Zero
}

// TradeFee returns notional × rate for the account type.
// Fees are deducted at execution time; if the post-fee balance would
// violate the margin invariant the order is rejected before any ledger
// mutation, never retried.
func (s FeeSchedule) TradeFee(t model.AccountType, notional decimal.Decimal) decimal.Decimal {
	return money.Round(notional.Mul(s.Rate(t)))
}

// LiquidationFee returns notional × liquidation rate.
func (s FeeSchedule) LiquidationFee(notional decimal.Decimal) decimal.Decimal {
	return money.Round(notional.Mul(s.Liquidation))
}
