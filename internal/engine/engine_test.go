package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simex/risk-engine/internal/config"
	"github.com/simex/risk-engine/internal/engine"
	"github.com/simex/risk-engine/internal/market"
	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/money"
	"github.com/simex/risk-engine/internal/store"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

var base = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// ticksAt builds one tick per close price, one minute apart.
func ticksAt(closes ...string) []model.Tick {
	ticks := make([]model.Tick, len(closes))
	for i, c := range closes {
		ticks[i] = model.Tick{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      d(c), High: d(c), Low: d(c), Close: d(c),
			Volume: d("1"),
		}
	}
	return ticks
}

func withFundingRate(ticks []model.Tick, rate string) []model.Tick {
	r := d(rate)
	for i := range ticks {
		ticks[i].FundingRate = &r
	}
	return ticks
}

const twoFuturesUsersYAML = `
engine:
  funding_interval_ticks: 8
  maintenance_margin_ratio: "0.05"
  interest_rate_per_tick: "0"
users:
  - id: alice
    futures:
      open_account: true
      initial_cash: "1000"
      leverage: 10
      base: true
  - id: bob
    futures:
      open_account: true
      initial_cash: "1000"
      leverage: 10
`

func newTestEngine(t *testing.T, cfgYAML string, ticks []model.Tick) (*engine.Engine, *store.MemoryStore) {
	t.Helper()
	cfg, err := config.Parse(strings.NewReader(cfgYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	feed, err := market.NewFeed(ticks)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	ms := store.NewMemoryStore()
	eng, err := engine.New(cfg, feed, ms, zap.NewNop())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng, ms
}

func futuresOrder(user string, side model.Side, size string, lev int) model.Order {
	return model.Order{
		Ref:      model.AccountRef{UserID: user, Account: model.AccountFutures},
		Side:     side,
		Size:     d(size),
		Leverage: lev,
	}
}

func mustStep(t *testing.T, eng *engine.Engine, orders []model.Order) *engine.StepResult {
	t.Helper()
	result, err := eng.Step(context.Background(), orders)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	return result
}

// --- Lifecycle ---

func TestFlatSeries_EquitiesStayAtInitialCash(t *testing.T) {
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100", "100", "100", "100"))

	for i := 0; i < 4; i++ {
		result := mustStep(t, eng, nil)
		for ref, eq := range result.Equities {
			if !eq.Equal(d("1000")) {
				t.Errorf("tick %d, %s: expected equity 1000, got %s", i, ref, eq)
			}
		}
		if !result.Reward.IsZero() {
			t.Errorf("tick %d: flat series reward should be zero, got %s", i, result.Reward)
		}
	}
}

func TestStep_DoneAtFeedEnd(t *testing.T) {
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100", "101"))

	if r := mustStep(t, eng, nil); r.Done {
		t.Error("first of two ticks must not be terminal")
	}
	if r := mustStep(t, eng, nil); !r.Done {
		t.Error("last tick must be terminal")
	}

	if _, err := eng.Step(context.Background(), nil); !errors.Is(err, engine.ErrFeedExhausted) {
		t.Errorf("expected ErrFeedExhausted, got %v", err)
	}
}

func TestReset_RestoresInitialState(t *testing.T) {
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100", "110", "120"))

	mustStep(t, eng, []model.Order{futuresOrder("alice", model.SideLong, "1", 5)})
	mustStep(t, eng, nil)

	equities := eng.Reset(context.Background())
	if !equities["alice:futures"].Equal(d("1000")) {
		t.Errorf("expected initial equity 1000, got %s", equities["alice:futures"])
	}

	snap := eng.Snapshot()
	if snap.TickIndex != 0 || snap.Done {
		t.Errorf("snapshot after reset: %+v", snap)
	}
	if !snap.Users["alice"].Equal(d("1000")) || !snap.Users["bob"].Equal(d("1000")) {
		t.Errorf("per-user equities after reset: %+v", snap.Users)
	}
	for _, acc := range snap.Accounts {
		if acc.Position != nil {
			t.Errorf("%s: position must be cleared by reset", acc.Ref)
		}
		if !acc.Cash.Equal(d("1000")) {
			t.Errorf("%s: cash must be restored, got %s", acc.Ref, acc.Cash)
		}
	}

	// The reward trajectory restarts too.
	result := mustStep(t, eng, nil)
	if !result.Reward.IsZero() {
		t.Errorf("first reward after reset should be zero, got %s", result.Reward)
	}
}

// --- Order execution ---

func TestOpenThenClose_RealizesOnlyFees(t *testing.T) {
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100", "100"))

	r1 := mustStep(t, eng, []model.Order{futuresOrder("alice", model.SideLong, "1", 5)})
	if !r1.Outcomes[0].Accepted {
		t.Fatalf("open rejected: %s", r1.Outcomes[0].Reject)
	}
	// margin 20, fee 100 × 0.0004 = 0.04
	if !r1.Equities["alice:futures"].Equal(d("999.96")) {
		t.Errorf("post-open equity: expected 999.96, got %s", r1.Equities["alice:futures"])
	}

	r2 := mustStep(t, eng, []model.Order{futuresOrder("alice", model.SideShort, "1", 5)})
	out := r2.Outcomes[0]
	if !out.Accepted || !out.Trade.Reduce {
		t.Fatalf("close not accepted as reduction: %+v", out)
	}
	if !out.Trade.RealizedPnL.IsZero() {
		t.Errorf("unchanged mark must realize zero pnl, got %s", out.Trade.RealizedPnL)
	}
	// Both fees gone, nothing else: 1000 − 0.04 − 0.04
	if !r2.Equities["alice:futures"].Equal(d("999.92")) {
		t.Errorf("post-close equity: expected 999.92, got %s", r2.Equities["alice:futures"])
	}
}

func TestRejection_LeavesStateUntouched(t *testing.T) {
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100", "100"))

	before := mustStep(t, eng, nil).Equities["alice:futures"]

	// 1000 × 100 / 1 margin is far beyond 1000 cash.
	r := mustStep(t, eng, []model.Order{futuresOrder("alice", model.SideLong, "1000", 1)})
	out := r.Outcomes[0]
	if out.Accepted || out.Reject != model.RejectInsufficientFunds {
		t.Fatalf("expected insufficient_funds rejection, got %+v", out)
	}
	if !r.Equities["alice:futures"].Equal(before) {
		t.Errorf("rejected order mutated equity: %s != %s", r.Equities["alice:futures"], before)
	}
}

func TestRejectionReasons(t *testing.T) {
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100"))

	orders := []model.Order{
		{Ref: model.AccountRef{UserID: "carol", Account: model.AccountFutures},
			Side: model.SideLong, Size: d("1"), Leverage: 2},
		futuresOrder("alice", model.SideLong, "1", 50), // bound is 10
		futuresOrder("bob", model.SideLong, "0", 2),
	}
	r := mustStep(t, eng, orders)

	got := map[string]model.RejectReason{}
	for _, out := range r.Outcomes {
		got[out.Ref.String()] = out.Reject
	}
	if got["carol:futures"] != model.RejectAccountNotOpen {
		t.Errorf("carol: expected account_not_open, got %s", got["carol:futures"])
	}
	if got["alice:futures"] != model.RejectLeverageExceeded {
		t.Errorf("alice: expected leverage_exceeded, got %s", got["alice:futures"])
	}
	if got["bob:futures"] != model.RejectInvalidOrderSize {
		t.Errorf("bob: expected invalid_order_size, got %s", got["bob:futures"])
	}
}

func TestDuplicateOrderInTick(t *testing.T) {
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100"))

	r := mustStep(t, eng, []model.Order{
		futuresOrder("alice", model.SideLong, "1", 5),
		futuresOrder("alice", model.SideLong, "2", 5),
	})
	if len(r.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(r.Outcomes))
	}

	var accepted, duplicates int
	for _, out := range r.Outcomes {
		if out.Accepted {
			accepted++
		} else if out.Reject == model.RejectDuplicateOrderInTick {
			duplicates++
		}
	}
	if accepted != 1 || duplicates != 1 {
		t.Errorf("expected one fill and one duplicate rejection, got %d/%d", accepted, duplicates)
	}
}

func TestOverReduction_Rejected(t *testing.T) {
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100", "100"))

	mustStep(t, eng, []model.Order{futuresOrder("alice", model.SideLong, "1", 5)})
	r := mustStep(t, eng, []model.Order{futuresOrder("alice", model.SideShort, "2", 5)})

	out := r.Outcomes[0]
	if out.Accepted || out.Reject != model.RejectInvalidOrderSize {
		t.Errorf("over-reduction should reject with invalid_order_size, got %+v", out)
	}
}

// --- Liquidation ---

func TestLiquidation_TriggersBelowThreshold(t *testing.T) {
	// Long 1 @ 100, 5x, m = 0.05 → liquidation price 85.
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100", "86", "84"))

	mustStep(t, eng, []model.Order{futuresOrder("alice", model.SideLong, "1", 5)})

	r2 := mustStep(t, eng, nil) // mark 86, above 85
	if len(r2.Liquidations) != 0 {
		t.Fatal("mark 86 must not liquidate")
	}

	r3 := mustStep(t, eng, nil) // mark 84, below 85
	if len(r3.Liquidations) != 1 {
		t.Fatalf("mark 84 must liquidate, got %d liquidations", len(r3.Liquidations))
	}

	liq := r3.Liquidations[0]
	if !liq.Liquidation || !liq.Reduce {
		t.Errorf("liquidation trade flags: %+v", liq)
	}
	if !liq.RealizedPnL.Equal(d("-16")) {
		t.Errorf("expected pnl -16, got %s", liq.RealizedPnL)
	}

	// Residual = 20 − 16 − 0.42 = 3.58; cash was 979.96 after open.
	eq := r3.Equities["alice:futures"]
	if !eq.Equal(d("983.54")) {
		t.Errorf("post-liquidation equity: expected 983.54, got %s", eq)
	}
	if eq.IsNegative() {
		t.Error("equity must be non-negative immediately after the sweep")
	}

	snap := eng.Snapshot()
	for _, acc := range snap.Accounts {
		if acc.Ref.UserID == "alice" && acc.Position != nil {
			t.Error("liquidated position must be cleared")
		}
	}
}

func TestLiquidation_EquityNeverNegativeOnGap(t *testing.T) {
	// A gap straight through the liquidation price wipes the margin, but
	// the residual floor keeps equity at the remaining cash.
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100", "40"))

	mustStep(t, eng, []model.Order{futuresOrder("alice", model.SideLong, "1", 5)})
	r := mustStep(t, eng, nil)

	if len(r.Liquidations) != 1 {
		t.Fatal("gap through liq price must liquidate")
	}
	eq := r.Equities["alice:futures"]
	if eq.IsNegative() {
		t.Errorf("equity must never be negative after liquidation, got %s", eq)
	}
	if !eq.Equal(d("979.96")) {
		t.Errorf("expected remaining cash 979.96, got %s", eq)
	}
}

func TestClose_LossBeyondCashRejectedThenSwept(t *testing.T) {
	// All-in 10x long, then the mark gaps far through the liquidation
	// price. The voluntary close would realize a loss no cash can cover,
	// so it is rejected and the sweep settles the position instead,
	// flooring the loss at the collateral.
	eng, _ := newTestEngine(t, twoFuturesUsersYAML, ticksAt("100", "40"))

	open := futuresOrder("alice", model.SideLong, "0", 10)
	open.SizeAll = true
	r1 := mustStep(t, eng, []model.Order{open})
	if !r1.Outcomes[0].Accepted {
		t.Fatalf("all-in open rejected: %s", r1.Outcomes[0].Reject)
	}

	exit := futuresOrder("alice", model.SideShort, "0", 10)
	exit.SizeAll = true
	r2 := mustStep(t, eng, []model.Order{exit})

	out := r2.Outcomes[0]
	if out.Accepted || out.Reject != model.RejectInsufficientFunds {
		t.Fatalf("underwater close must reject with insufficient_funds, got %+v", out)
	}
	if len(r2.Liquidations) != 1 {
		t.Fatalf("rejected close must leave the position to the sweep, got %d liquidations", len(r2.Liquidations))
	}
	eq := r2.Equities["alice:futures"]
	if eq.IsNegative() {
		t.Errorf("equity must be non-negative after the sweep, got %s", eq)
	}

	snap := eng.Snapshot()
	for _, acc := range snap.Accounts {
		if acc.Ref.UserID == "alice" {
			if acc.Position != nil {
				t.Error("swept position must be cleared")
			}
			if acc.Cash.IsNegative() {
				t.Errorf("cash must be non-negative, got %s", acc.Cash)
			}
		}
	}
}

const ceilingLeverageYAML = `
engine:
  funding_interval_ticks: 8
  maintenance_margin_ratio: "0.05"
  interest_rate_per_tick: "0"
users:
  - id: alice
    futures:
      open_account: true
      initial_cash: "1000"
      leverage: 19
      base: true
  - id: bob
    futures:
      open_account: true
      initial_cash: "1000"
      leverage: 19
`

func TestOpen_LiquidationPriceBoundAtLeverageCeiling(t *testing.T) {
	// 19x is the highest leverage m = 0.05 admits. Even there, a fresh
	// fill's liquidation price must sit strictly between zero and the
	// mark (long) or strictly above it (short), so an unchanged mark
	// never liquidates the opening tick.
	eng, _ := newTestEngine(t, ceilingLeverageYAML, ticksAt("100", "100"))

	r := mustStep(t, eng, []model.Order{
		futuresOrder("alice", model.SideLong, "1", 19),
		futuresOrder("bob", model.SideShort, "1", 19),
	})
	for _, out := range r.Outcomes {
		if !out.Accepted {
			t.Fatalf("%s: open rejected: %s", out.Ref, out.Reject)
		}
	}
	if len(r.Liquidations) != 0 {
		t.Fatal("position liquidated at unchanged mark in its opening tick")
	}

	snap := eng.Snapshot()
	for _, acc := range snap.Accounts {
		if acc.Position == nil {
			t.Fatalf("%s: expected open position", acc.Ref)
		}
		liq := acc.Position.LiquidationPrice
		if acc.Position.Side == model.SideLong {
			if !liq.IsPositive() || liq.GreaterThanOrEqual(d("100")) {
				t.Errorf("long liq price %s not in (0, 100)", liq)
			}
		} else if liq.LessThanOrEqual(d("100")) {
			t.Errorf("short liq price %s not above 100", liq)
		}
	}

	r2 := mustStep(t, eng, nil)
	if len(r2.Liquidations) != 0 {
		t.Error("flat mark must not liquidate either side")
	}
}

// --- Funding ---

func TestFunding_ZeroSumAcrossOppositePositions(t *testing.T) {
	yaml := strings.Replace(twoFuturesUsersYAML, "funding_interval_ticks: 8", "funding_interval_ticks: 4", 1)
	ticks := withFundingRate(ticksAt("100", "100", "100", "100", "100"), "0.001")
	eng, ms := newTestEngine(t, yaml, ticks)

	mustStep(t, eng, []model.Order{
		futuresOrder("alice", model.SideLong, "1", 10),
		futuresOrder("bob", model.SideShort, "1", 10),
	})

	var result *engine.StepResult
	for i := 0; i < 4; i++ {
		result = mustStep(t, eng, nil)
	}

	// Settlement occurred on tick index 4.
	if len(result.FundingPayments) != 2 {
		t.Fatalf("expected 2 funding payments, got %d", len(result.FundingPayments))
	}
	total := decimal.Zero
	for _, p := range result.FundingPayments {
		total = total.Add(p.Payment)
	}
	if !total.IsZero() {
		t.Errorf("funding must be zero-sum, got %s", total)
	}

	// rate > 0: alice (long) pays bob (short) 1 × 100 × 0.001 = 0.1.
	if !result.Equities["alice:futures"].Equal(d("999.86")) {
		t.Errorf("alice equity: expected 999.86, got %s", result.Equities["alice:futures"])
	}
	if !result.Equities["bob:futures"].Equal(d("1000.06")) {
		t.Errorf("bob equity: expected 1000.06, got %s", result.Equities["bob:futures"])
	}

	// System total unchanged by funding: 2000 minus the two open fees.
	sum := result.Equities["alice:futures"].Add(result.Equities["bob:futures"])
	if !sum.Equal(d("1999.92")) {
		t.Errorf("total equity: expected 1999.92, got %s", sum)
	}

	payments, err := ms.ListFundingPaymentsByUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if len(payments) != 1 || !payments[0].Payment.Equal(d("0.1")) {
		t.Errorf("persisted payments: %+v", payments)
	}
}

func TestFunding_MissingRequiredRateAbortsSettlement(t *testing.T) {
	yaml := strings.Replace(twoFuturesUsersYAML, "funding_interval_ticks: 8",
		"funding_interval_ticks: 2\n  require_funding_rate: true", 1)
	eng, _ := newTestEngine(t, yaml, ticksAt("100", "100", "100"))

	mustStep(t, eng, []model.Order{futuresOrder("alice", model.SideLong, "1", 10)})
	mustStep(t, eng, nil)
	result := mustStep(t, eng, nil) // tick index 2, boundary, no rate in feed

	if !result.FundingMissing {
		t.Error("missing required rate must be surfaced on the result")
	}
	if len(result.FundingPayments) != 0 {
		t.Error("aborted settlement must not apply any payments")
	}
	// Account balances untouched by the aborted settlement.
	if !result.Equities["alice:futures"].Equal(d("999.96")) {
		t.Errorf("expected equity 999.96, got %s", result.Equities["alice:futures"])
	}
}

// --- Determinism ---

func TestDeterminism_IdenticalRunsMatch(t *testing.T) {
	ticks := withFundingRate(ticksAt("100", "103", "97", "95", "101", "84"), "0.0002")
	script := [][]model.Order{
		{futuresOrder("alice", model.SideLong, "2", 5), futuresOrder("bob", model.SideShort, "1", 10)},
		nil,
		{futuresOrder("alice", model.SideShort, "1", 5)},
		nil,
		{futuresOrder("bob", model.SideLong, "1", 10)},
		nil,
	}

	yaml := strings.Replace(twoFuturesUsersYAML, "funding_interval_ticks: 8", "funding_interval_ticks: 3", 1)
	run := func() []*engine.StepResult {
		eng, _ := newTestEngine(t, yaml, ticks)
		var results []*engine.StepResult
		for _, orders := range script {
			results = append(results, mustStep(t, eng, orders))
		}
		return results
	}

	first, second := run(), run()
	for i := range first {
		for ref, eq := range first[i].Equities {
			if !second[i].Equities[ref].Equal(eq) {
				t.Errorf("tick %d, %s: %s != %s", i, ref, eq, second[i].Equities[ref])
			}
		}
		if !first[i].Reward.Equal(second[i].Reward) {
			t.Errorf("tick %d: reward %s != %s", i, first[i].Reward, second[i].Reward)
		}
		if len(first[i].Liquidations) != len(second[i].Liquidations) {
			t.Errorf("tick %d: liquidation count differs", i)
		}
	}
}

// --- Spot and margin accounts ---

const mixedAccountsYAML = `
engine:
  funding_interval_ticks: 8
  maintenance_margin_ratio: "0.05"
  interest_rate_per_tick: "0.01"
users:
  - id: carol
    spot:
      open_account: true
      initial_cash: "1000"
      base: true
    margin:
      open_account: true
      initial_cash: "1000"
      leverage: 5
`

func TestSpot_BuyAllThenSellAll(t *testing.T) {
	eng, _ := newTestEngine(t, mixedAccountsYAML, ticksAt("100", "100"))

	buy := model.Order{
		Ref:     model.AccountRef{UserID: "carol", Account: model.AccountSpot},
		Side:    model.SideLong,
		SizeAll: true,
	}
	r1 := mustStep(t, eng, []model.Order{buy})
	out := r1.Outcomes[0]
	if !out.Accepted {
		t.Fatalf("buy all rejected: %s", out.Reject)
	}
	// 1000 / (100 × 1.001) = 9.99000999…, truncated to 9.99
	if !out.Trade.Size.Equal(d("9.99")) {
		t.Errorf("expected size 9.99, got %s", out.Trade.Size)
	}

	sell := model.Order{
		Ref:     model.AccountRef{UserID: "carol", Account: model.AccountSpot},
		Side:    model.SideShort,
		SizeAll: true,
	}
	r2 := mustStep(t, eng, []model.Order{sell})
	if !r2.Outcomes[0].Accepted {
		t.Fatalf("sell all rejected: %s", r2.Outcomes[0].Reject)
	}
	// Round trip costs exactly the two fees: 0.999 each way.
	if !r2.Equities["carol:spot"].Equal(d("998.002")) {
		t.Errorf("expected 998.002, got %s", r2.Equities["carol:spot"])
	}

	snap := eng.Snapshot()
	for _, acc := range snap.Accounts {
		if acc.Ref.Account == model.AccountSpot && !acc.Holdings.IsZero() {
			t.Errorf("holdings should be empty after sell all, got %s", acc.Holdings)
		}
	}
	// User total spans both of carol's accounts: 998.002 spot + 1000 margin.
	if !snap.Users["carol"].Equal(d("1998.002")) {
		t.Errorf("user equity: expected 1998.002, got %s", snap.Users["carol"])
	}
}

func TestSpot_SellWithoutHoldingsRejected(t *testing.T) {
	eng, _ := newTestEngine(t, mixedAccountsYAML, ticksAt("100"))

	r := mustStep(t, eng, []model.Order{{
		Ref:  model.AccountRef{UserID: "carol", Account: model.AccountSpot},
		Side: model.SideShort,
		Size: d("1"),
	}})
	if r.Outcomes[0].Accepted || r.Outcomes[0].Reject != model.RejectInvalidOrderSize {
		t.Errorf("spot short without holdings must reject, got %+v", r.Outcomes[0])
	}
}

func TestMargin_BorrowsAndAccruesInterest(t *testing.T) {
	eng, _ := newTestEngine(t, mixedAccountsYAML, ticksAt("100", "100", "100"))

	r1 := mustStep(t, eng, []model.Order{{
		Ref:      model.AccountRef{UserID: "carol", Account: model.AccountMargin},
		Side:     model.SideLong,
		Size:     d("10"),
		Leverage: 5,
	}})
	if !r1.Outcomes[0].Accepted {
		t.Fatalf("open rejected: %s", r1.Outcomes[0].Reject)
	}

	snap := eng.Snapshot()
	for _, acc := range snap.Accounts {
		if acc.Ref.Account != model.AccountMargin {
			continue
		}
		// notional 1000, margin 200 → borrowed 800
		if !acc.Borrowed.Equal(d("800")) {
			t.Errorf("expected borrowed 800, got %s", acc.Borrowed)
		}
		// 1% per tick on 800 after the opening tick
		if !acc.InterestOwed.Equal(d("8")) {
			t.Errorf("expected interest 8, got %s", acc.InterestOwed)
		}
	}

	// Close: interest is settled from cash, principal repaid.
	r2 := mustStep(t, eng, []model.Order{{
		Ref:      model.AccountRef{UserID: "carol", Account: model.AccountMargin},
		Side:     model.SideShort,
		Size:     d("10"),
		Leverage: 5,
	}})
	if !r2.Outcomes[0].Accepted {
		t.Fatalf("close rejected: %s", r2.Outcomes[0].Reject)
	}

	snap = eng.Snapshot()
	for _, acc := range snap.Accounts {
		if acc.Ref.Account != model.AccountMargin {
			continue
		}
		if !acc.Borrowed.IsZero() || !acc.InterestOwed.IsZero() {
			t.Errorf("close must clear debt, borrowed %s interest %s", acc.Borrowed, acc.InterestOwed)
		}
		// 1000 − fee 1 − fee 1 − interest 8; margin in and out cancels
		// and accrual stops once the principal is repaid.
		if !acc.Cash.Equal(d("990")) {
			t.Errorf("expected cash 990, got %s", acc.Cash)
		}
	}
}
