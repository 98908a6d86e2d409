// Package reward derives the externally visible reward signal from the
// base account's equity trajectory. Only the designated base account feeds
// this; other users' accounts exist purely as environmental context.
//
// Equity samples stay decimal; ln and sqrt for the statistics run in
// float64 with results immediately converted back. The float envelope
// never touches ledger state.
package reward

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/money"
)

// Kind selects which statistic Reward returns.
type Kind string

const (
	KindPortfolioReturn Kind = "portfolio_return"
	KindLogReturn       Kind = "log_return"
	KindSharpe          Kind = "sharpe"
	KindHybrid          Kind = "hybrid"
)

// Scale is the rounding applied to reward values.
var Scale int32 = 8

// Tracker accumulates the base account's equity per tick.
type Tracker struct {
	history     []decimal.Decimal
	freqPerYear float64
	hybridAlpha float64
}

// NewTracker starts a trajectory at the configured initial equity.
// freqPerYear annualizes the Sharpe ratio (252 for daily ticks).
func NewTracker(initial decimal.Decimal, freqPerYear int) *Tracker {
	if freqPerYear <= 0 {
		freqPerYear = 252
	}
	return &Tracker{
		history:     []decimal.Decimal{initial},
		freqPerYear: float64(freqPerYear),
		hybridAlpha: 0.5,
	}
}

// Update appends one equity sample.
func (t *Tracker) Update(equity decimal.Decimal) {
	t.history = append(t.history, equity)
}

// Reset restarts the trajectory at the given initial equity.
func (t *Tracker) Reset(initial decimal.Decimal) {
	t.history = t.history[:0]
	t.history = append(t.history, initial)
}

// Len returns the number of samples recorded.
func (t *Tracker) Len() int {
	return len(t.history)
}

// PortfolioReturn is (last − first) / first.
func (t *Tracker) PortfolioReturn() decimal.Decimal {
	if len(t.history) < 2 {
		return decimal.Zero
	}
	first := t.history[0]
	if first.IsZero() {
		return decimal.Zero
	}
	last := t.history[len(t.history)-1]
	return last.Sub(first).Div(first).Round(Scale)
}

// LogReturn is ln(last / previous), the tick-over-tick log return.
func (t *Tracker) LogReturn() decimal.Decimal {
	if len(t.history) < 2 {
		return decimal.Zero
	}
	prev := t.history[len(t.history)-2].InexactFloat64()
	last := t.history[len(t.history)-1].InexactFloat64()
	if prev <= 0 || last <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Log(last / prev)).Round(Scale)
}

// Sharpe is the annualized mean/stddev of log returns over the trajectory.
func (t *Tracker) Sharpe() decimal.Decimal {
	if len(t.history) < 3 {
		return decimal.Zero
	}
	returns := make([]float64, 0, len(t.history)-1)
	for i := 1; i < len(t.history); i++ {
		a := t.history[i-1].InexactFloat64()
		b := t.history[i].InexactFloat64()
		if a <= 0 || b <= 0 {
			return decimal.Zero
		}
		returns = append(returns, math.Log(b/a))
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	if variance == 0 {
		return decimal.Zero
	}

	sharpe := math.Sqrt(t.freqPerYear) * mean / math.Sqrt(variance)
	return decimal.NewFromFloat(sharpe).Round(Scale)
}

// Hybrid blends the log return with the Sharpe ratio.
func (t *Tracker) Hybrid() decimal.Decimal {
	alpha := decimal.NewFromFloat(t.hybridAlpha)
	one := money.One
	return alpha.Mul(t.LogReturn()).Add(one.Sub(alpha).Mul(t.Sharpe())).Round(Scale)
}

// Reward returns the statistic selected by kind. Unknown kinds fall back
// to the tick-over-tick log return.
func (t *Tracker) Reward(kind Kind) decimal.Decimal {
	switch kind {
	case KindPortfolioReturn:
		return t.PortfolioReturn()
	case KindSharpe:
		return t.Sharpe()
	case KindHybrid:
		return t.Hybrid()
	default:
		return t.LogReturn()
	}
}
