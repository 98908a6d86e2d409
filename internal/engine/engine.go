// Package engine orchestrates the per-tick simulation: order matching at
// the mark price, interest accrual, funding settlement, the liquidation
// sweep, and equity revaluation.
//
// A tick is one atomic unit of work. Processing order within a tick is
// fixed (ascending user ID, then spot, margin, futures) so repeated runs
// with identical inputs produce identical outcomes.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simex/risk-engine/internal/config"
	"github.com/simex/risk-engine/internal/funding"
	"github.com/simex/risk-engine/internal/ledger"
	"github.com/simex/risk-engine/internal/liquidation"
	"github.com/simex/risk-engine/internal/margin"
	"github.com/simex/risk-engine/internal/market"
	"github.com/simex/risk-engine/internal/metrics"
	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/position"
	"github.com/simex/risk-engine/internal/reward"
	"github.com/simex/risk-engine/internal/store"
	"github.com/simex/risk-engine/internal/valuation"
)

// ErrFeedExhausted is returned by Step once every tick has been consumed.
var ErrFeedExhausted = errors.New("engine: tick feed exhausted")

// Account is one (user, account-type) pair's live state.
type Account struct {
	Ref           model.AccountRef
	LeverageBound int
	InitialCash   decimal.Decimal
	Ledger        *ledger.Ledger
	Book          *position.Book
	Holdings      decimal.Decimal // spot asset quantity, zero for leveraged accounts
}

// OrderOutcome is the per-order result within one step.
type OrderOutcome struct {
	Ref      model.AccountRef   `json:"ref"`
	Accepted bool               `json:"accepted"`
	Reject   model.RejectReason `json:"reject,omitempty"`
	Trade    *model.Trade       `json:"trade,omitempty"`
}

// StepResult is everything one tick produced.
type StepResult struct {
	TickIndex       int64                      `json:"tick_index"`
	Timestamp       time.Time                  `json:"timestamp"`
	Mark            decimal.Decimal            `json:"mark"`
	Outcomes        []OrderOutcome             `json:"outcomes"`
	Liquidations    []model.Trade              `json:"liquidations,omitempty"`
	FundingPayments []model.FundingPayment     `json:"funding_payments,omitempty"`
	FundingMissing  bool                       `json:"funding_missing,omitempty"`
	Equities        map[string]decimal.Decimal `json:"equities"`
	BaseEquity      decimal.Decimal            `json:"base_equity"`
	Reward          decimal.Decimal            `json:"reward"`
	Done            bool                       `json:"done"`
}

// AccountSnapshot is the read-only view of one account.
type AccountSnapshot struct {
	Ref          model.AccountRef   `json:"ref"`
	Cash         decimal.Decimal    `json:"cash"`
	Borrowed     decimal.Decimal    `json:"borrowed"`
	InterestOwed decimal.Decimal    `json:"interest_owed"`
	FeesOwed     decimal.Decimal    `json:"fees_owed"`
	Holdings     decimal.Decimal    `json:"holdings"`
	Position     *position.Position `json:"position,omitempty"`
	Equity       decimal.Decimal    `json:"equity"`
}

// Snapshot is the full read-only engine state.
type Snapshot struct {
	TickIndex  int64                      `json:"tick_index"`
	Mark       decimal.Decimal            `json:"mark"`
	Done       bool                       `json:"done"`
	Accounts   []AccountSnapshot          `json:"accounts"`
	Users      map[string]decimal.Decimal `json:"users"` // equity summed across each user's accounts
	BaseEquity decimal.Decimal            `json:"base_equity"`
}

// Engine drives the simulation. All public methods are safe for
// concurrent use; internally every tick runs single-threaded under the
// mutex, which is what the determinism contract requires.
type Engine struct {
	mu sync.Mutex

	cfg   *config.Config
	feed  *market.Feed
	store store.Store
	log   *zap.Logger

	calc       *margin.Calculator
	fees       margin.FeeSchedule
	funding    *funding.Engine
	liq        *liquidation.Engine
	rewardKind reward.Kind

	interestRate decimal.Decimal

	accounts map[model.AccountRef]*Account
	refs     []model.AccountRef // fixed processing order
	base     model.AccountRef

	tracker   *reward.Tracker
	history   map[model.AccountRef][]model.EquityPoint
	tickIndex int64
	lastMark  decimal.Decimal
	done      bool
}

// New builds an engine from validated configuration, a tick feed, and a
// store for the audit trail. The engine starts in its reset state.
func New(cfg *config.Config, feed *market.Feed, st store.Store, log *zap.Logger) (*Engine, error) {
	calc, err := margin.NewCalculator(cfg.Engine.MaintenanceMarginRatioDecimal())
	if err != nil {
		return nil, err
	}

	spot, marginFee, futures, liq := cfg.Fees.Rates()
	fees := margin.FeeSchedule{Spot: spot, Margin: marginFee, Futures: futures, Liquidation: liq}

	e := &Engine{
		cfg:   cfg,
		feed:  feed,
		store: st,
		log:   log,
		calc:  calc,
		fees:  fees,
		funding: funding.NewEngine(
			cfg.Engine.FundingIntervalTicks,
			cfg.Engine.RequireFundingRate,
			cfg.Engine.DefaultFundingRateDecimal(),
		),
		rewardKind:   reward.Kind(cfg.Engine.Reward),
		interestRate: cfg.Engine.InterestRatePerTickDecimal(),
		base:         cfg.BaseRef(),
	}
	e.liq = liquidation.NewEngine(calc, fees)

	for i := range cfg.Users {
		u := &cfg.Users[i]
		for _, at := range model.AccountTypes {
			acc := u.Account(at)
			if acc == nil || !acc.Open {
				continue
			}
			ref := model.AccountRef{UserID: u.ID, Account: at}
			e.refs = append(e.refs, ref)
		}
	}
	sort.Slice(e.refs, func(i, j int) bool { return e.refs[i].Less(e.refs[j]) })

	e.resetLocked()
	return e, nil
}

// resetLocked rebuilds all account state from configuration. Caller holds
// the mutex (or is constructing the engine).
func (e *Engine) resetLocked() {
	e.accounts = make(map[model.AccountRef]*Account, len(e.refs))
	e.history = make(map[model.AccountRef][]model.EquityPoint, len(e.refs))
	for _, ref := range e.refs {
		acc := e.userConfig(ref.UserID).Account(ref.Account)
		e.accounts[ref] = &Account{
			Ref:           ref,
			LeverageBound: acc.Leverage,
			InitialCash:   acc.InitialCashDecimal(),
			Ledger:        ledger.New(acc.InitialCashDecimal()),
			Book:          position.NewBook(),
			Holdings:      decimal.Zero,
		}
	}
	initial := e.accounts[e.base].InitialCash
	if e.tracker == nil {
		e.tracker = reward.NewTracker(initial, e.cfg.Engine.RewardFreqPerYear)
	} else {
		e.tracker.Reset(initial)
	}
	e.tickIndex = 0
	e.lastMark = e.feed.At(0).Mark()
	e.done = false
}

func (e *Engine) userConfig(userID string) *config.UserConfig {
	for i := range e.cfg.Users {
		if e.cfg.Users[i].ID == userID {
			return &e.cfg.Users[i]
		}
	}
	return nil
}

// Reset reinitializes all ledgers and positions to their configured
// initial state and returns the initial equities.
func (e *Engine) Reset(ctx context.Context) map[string]decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetLocked()

	equities := make(map[string]decimal.Decimal, len(e.refs))
	for _, ref := range e.refs {
		equities[ref.String()] = e.accounts[ref].InitialCash
	}
	e.log.Info("engine reset",
		zap.Int("accounts", len(e.refs)),
		zap.Int("ticks", e.feed.Len()))
	return equities
}

// Step processes one tick: the order batch, interest accrual, funding
// settlement when due, the liquidation sweep, and equity revaluation.
func (e *Engine) Step(ctx context.Context, orders []model.Order) (*StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return nil, ErrFeedExhausted
	}
	start := time.Now()

	tick := e.feed.At(int(e.tickIndex))
	mark := tick.Mark()
	e.lastMark = mark

	result := &StepResult{
		TickIndex: e.tickIndex,
		Timestamp: tick.Timestamp,
		Mark:      mark,
		Equities:  make(map[string]decimal.Decimal, len(e.refs)),
	}

	// One order at most per (user, account) per tick; later duplicates
	// are rejected, the first occurrence stands.
	seen := make(map[model.AccountRef]bool, len(orders))
	var kept []model.Order
	var duplicates []OrderOutcome
	for _, o := range orders {
		if seen[o.Ref] {
			duplicates = append(duplicates, OrderOutcome{
				Ref:    o.Ref,
				Reject: model.RejectDuplicateOrderInTick,
			})
			metrics.OrderRejections.WithLabelValues(string(model.RejectDuplicateOrderInTick)).Inc()
			continue
		}
		seen[o.Ref] = true
		kept = append(kept, o)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Ref.Less(kept[j].Ref) })

	for i := range kept {
		outcome := e.applyOrder(&kept[i], tick.Timestamp, mark)
		if outcome.Accepted {
			metrics.TradesTotal.WithLabelValues(
				string(outcome.Trade.Account), string(outcome.Trade.Side)).Inc()
			e.persistTrade(ctx, outcome.Trade)
		} else {
			metrics.OrderRejections.WithLabelValues(string(outcome.Reject)).Inc()
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	result.Outcomes = append(result.Outcomes, duplicates...)

	e.accrueInterest()
	e.settleFunding(ctx, tick, mark, result)
	e.sweepLiquidations(ctx, tick.Timestamp, mark, result)
	e.revalue(ctx, tick.Timestamp, mark, result)

	e.tickIndex++
	e.done = e.tickIndex >= int64(e.feed.Len())
	result.Done = e.done

	metrics.TicksTotal.Inc()
	metrics.StepLatency.Observe(time.Since(start).Seconds())
	return result, nil
}

// accrueInterest compounds the per-tick borrow rate on every margin
// account with outstanding principal.
func (e *Engine) accrueInterest() {
	for _, ref := range e.refs {
		if ref.Account != model.AccountMargin {
			continue
		}
		e.accounts[ref].Ledger.AccrueInterest(e.interestRate, 1)
	}
}

// settleFunding runs funding settlement when the tick is a boundary. A
// missing required rate aborts the whole settlement and is surfaced on the
// result; it is never applied partially.
func (e *Engine) settleFunding(ctx context.Context, tick model.Tick, mark decimal.Decimal, result *StepResult) {
	if !e.funding.Due(e.tickIndex) {
		return
	}

	var holders []funding.Holder
	for _, ref := range e.refs {
		if ref.Account != model.AccountFutures {
			continue
		}
		pos := e.accounts[ref].Book.Open()
		if pos == nil {
			continue
		}
		holders = append(holders, funding.Holder{Ref: ref, Side: pos.Side, Size: pos.Size})
	}

	payments, err := e.funding.Settle(e.tickIndex, tick.Timestamp, mark, tick.FundingRate, holders)
	if err != nil {
		result.FundingMissing = true
		e.log.Warn("funding settlement aborted",
			zap.Int64("tick", e.tickIndex), zap.Error(err))
		return
	}
	if len(payments) == 0 {
		return
	}

	for i := range payments {
		p := &payments[i]
		led := e.accounts[model.AccountRef{UserID: p.UserID, Account: p.Account}].Ledger
		if p.Payment.IsPositive() {
			_ = led.Credit(p.Payment, "funding received")
		} else if p.Payment.IsNegative() {
			led.ForceDebit(p.Payment.Neg(), "funding paid")
		}
	}
	result.FundingPayments = payments
	metrics.FundingSettlementsTotal.Inc()

	if err := e.store.InsertFundingPayments(ctx, payments); err != nil {
		e.log.Error("persist funding payments", zap.Error(err))
	}
}

// sweepLiquidations force-closes every leveraged position whose mark has
// crossed its liquidation price. The residual collateral returns to cash;
// borrowed principal and accrued interest go down with the position.
func (e *Engine) sweepLiquidations(ctx context.Context, ts time.Time, mark decimal.Decimal, result *StepResult) {
	for _, ref := range e.refs {
		if !ref.Account.Leveraged() {
			continue
		}
		acct := e.accounts[ref]
		pos := acct.Book.Open()
		if !e.liq.Breached(pos, mark) {
			continue
		}

		s := e.liq.Settle(pos, mark)
		if s.Residual.IsPositive() {
			_ = acct.Ledger.Credit(s.Residual, "liquidation residual")
		}
		acct.Ledger.WriteOffDebt("liquidation")
		acct.Book.Clear()

		trade := newTrade(ref, s.Side, s.Size, mark, s.Fee, e.tickIndex, ts)
		trade.RealizedPnL = s.PnL
		trade.Reduce = true
		trade.Liquidation = true

		result.Liquidations = append(result.Liquidations, *trade)
		metrics.LiquidationsTotal.WithLabelValues(string(ref.Account)).Inc()
		e.persistTrade(ctx, trade)

		e.log.Info("position liquidated",
			zap.String("account", ref.String()),
			zap.String("side", string(s.Side)),
			zap.String("size", s.Size.String()),
			zap.String("mark", mark.String()),
			zap.String("residual", s.Residual.String()))
	}
}

// revalue recomputes every account's equity at the tick's mark, records
// the equity trajectory, and updates the reward tracker from the base
// account.
func (e *Engine) revalue(ctx context.Context, ts time.Time, mark decimal.Decimal, result *StepResult) {
	points := make([]model.EquityPoint, 0, len(e.refs))
	for _, ref := range e.refs {
		eq := e.equityLocked(ref, mark)
		result.Equities[ref.String()] = eq

		point := model.EquityPoint{Ref: ref, TickIndex: e.tickIndex, Timestamp: ts, Equity: eq}
		e.history[ref] = append(e.history[ref], point)
		points = append(points, point)
	}

	result.BaseEquity = result.Equities[e.base.String()]
	e.tracker.Update(result.BaseEquity)
	result.Reward = e.tracker.Reward(e.rewardKind)

	if err := e.store.InsertEquityPoints(ctx, points); err != nil {
		e.log.Error("persist equity points", zap.Error(err))
	}
}

func (e *Engine) viewLocked(ref model.AccountRef) valuation.AccountView {
	acct := e.accounts[ref]
	return valuation.AccountView{
		Cash:         acct.Ledger.Cash(),
		InterestOwed: acct.Ledger.InterestOwed(),
		FeesOwed:     acct.Ledger.FeesOwed(),
		Holdings:     acct.Holdings,
		Position:     acct.Book.Open(),
	}
}

func (e *Engine) equityLocked(ref model.AccountRef, mark decimal.Decimal) decimal.Decimal {
	return valuation.Equity(e.viewLocked(ref), mark)
}

func (e *Engine) persistTrade(ctx context.Context, t *model.Trade) {
	if err := e.store.InsertTrade(ctx, t); err != nil {
		e.log.Error("persist trade", zap.String("trade_id", t.ID), zap.Error(err))
	}
}

// Snapshot returns a read-only view of the engine state at the current
// mark. It never mutates state and is safe for logging collaborators.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		TickIndex: e.tickIndex,
		Mark:      e.lastMark,
		Done:      e.done,
		Accounts:  make([]AccountSnapshot, 0, len(e.refs)),
		Users:     make(map[string]decimal.Decimal),
	}
	userViews := make(map[string][]valuation.AccountView)
	for _, ref := range e.refs {
		acct := e.accounts[ref]
		as := AccountSnapshot{
			Ref:          ref,
			Cash:         acct.Ledger.Cash(),
			Borrowed:     acct.Ledger.Borrowed(),
			InterestOwed: acct.Ledger.InterestOwed(),
			FeesOwed:     acct.Ledger.FeesOwed(),
			Holdings:     acct.Holdings,
			Equity:       e.equityLocked(ref, e.lastMark),
		}
		if pos := acct.Book.Open(); pos != nil {
			copied := *pos
			as.Position = &copied
		}
		snap.Accounts = append(snap.Accounts, as)
		userViews[ref.UserID] = append(userViews[ref.UserID], e.viewLocked(ref))
		if ref == e.base {
			snap.BaseEquity = as.Equity
		}
	}
	for userID, views := range userViews {
		snap.Users[userID] = valuation.UserEquity(views, e.lastMark)
	}
	return snap
}

// History returns the equity trajectory recorded for one account since
// the last reset.
func (e *Engine) History(ref model.AccountRef) []model.EquityPoint {
	e.mu.Lock()
	defer e.mu.Unlock()

	points := e.history[ref]
	out := make([]model.EquityPoint, len(points))
	copy(out, points)
	return out
}

// BaseRef returns the reward-driving account reference.
func (e *Engine) BaseRef() model.AccountRef {
	return e.base
}

// Refs returns the accounts in processing order.
func (e *Engine) Refs() []model.AccountRef {
	out := make([]model.AccountRef, len(e.refs))
	copy(out, e.refs)
	return out
}

func errOutcome(ref model.AccountRef, reason model.RejectReason) OrderOutcome {
	return OrderOutcome{Ref: ref, Reject: reason}
}

func fillOutcome(trade *model.Trade) OrderOutcome {
	return OrderOutcome{
		Ref:      model.AccountRef{UserID: trade.UserID, Account: trade.Account},
		Accepted: true,
		Trade:    trade,
	}
}
