package funding_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/funding"
	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/money"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

var ts = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDue(t *testing.T) {
	e := funding.NewEngine(8, false, d("0.0001"))

	if e.Due(0) {
		t.Error("tick 0 is never a boundary")
	}
	if !e.Due(8) || !e.Due(16) {
		t.Error("multiples of the interval are boundaries")
	}
	if e.Due(7) || e.Due(9) {
		t.Error("non-multiples are not boundaries")
	}
}

func TestSettle_ZeroSum(t *testing.T) {
	e := funding.NewEngine(8, false, d("0.0001"))
	rate := d("0.001")

	holders := []funding.Holder{
		{Ref: model.AccountRef{UserID: "alice", Account: model.AccountFutures}, Side: model.SideLong, Size: d("2")},
		{Ref: model.AccountRef{UserID: "bob", Account: model.AccountFutures}, Side: model.SideShort, Size: d("2")},
	}

	payments, err := e.Settle(8, ts, d("100"), &rate, holders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(payments))
	}

	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Payment)
	}
	if !total.IsZero() {
		t.Errorf("payments across equal opposite positions must sum to zero, got %s", total)
	}

	// rate > 0: long pays, short receives. 2 × 100 × 0.001 = 0.2
	if !payments[0].Payment.Equal(d("-0.2")) {
		t.Errorf("long payment: expected -0.2, got %s", payments[0].Payment)
	}
	if !payments[1].Payment.Equal(d("0.2")) {
		t.Errorf("short payment: expected 0.2, got %s", payments[1].Payment)
	}
}

func TestSettle_NegativeRateReverses(t *testing.T) {
	e := funding.NewEngine(8, false, d("0.0001"))
	rate := d("-0.001")

	payments, err := e.Settle(8, ts, d("100"), &rate, []funding.Holder{
		{Ref: model.AccountRef{UserID: "alice", Account: model.AccountFutures}, Side: model.SideLong, Size: d("1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payments[0].Payment.Equal(d("0.1")) {
		t.Errorf("long receives under negative rate: got %s", payments[0].Payment)
	}
}

func TestSettle_MissingRequiredRate(t *testing.T) {
	e := funding.NewEngine(8, true, d("0.0001"))

	_, err := e.Settle(8, ts, d("100"), nil, []funding.Holder{
		{Ref: model.AccountRef{UserID: "alice", Account: model.AccountFutures}, Side: model.SideLong, Size: d("1")},
	})
	if !errors.Is(err, funding.ErrFundingDataMissing) {
		t.Errorf("expected ErrFundingDataMissing, got %v", err)
	}
}

func TestSettle_DefaultRateWhenNotRequired(t *testing.T) {
	e := funding.NewEngine(8, false, d("0.0005"))

	payments, err := e.Settle(8, ts, d("200"), nil, []funding.Holder{
		{Ref: model.AccountRef{UserID: "alice", Account: model.AccountFutures}, Side: model.SideShort, Size: d("1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1 × 200 × 0.0005 = 0.1, short receives
	if !payments[0].Payment.Equal(d("0.1")) {
		t.Errorf("expected 0.1, got %s", payments[0].Payment)
	}
	if !payments[0].FundingRate.Equal(d("0.0005")) {
		t.Errorf("payment should carry the applied rate, got %s", payments[0].FundingRate)
	}
}

func TestSettle_ZeroRateNoPayments(t *testing.T) {
	e := funding.NewEngine(8, false, decimal.Zero)

	payments, err := e.Settle(8, ts, d("100"), nil, []funding.Holder{
		{Ref: model.AccountRef{UserID: "alice", Account: model.AccountFutures}, Side: model.SideLong, Size: d("1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payments != nil {
		t.Errorf("zero rate should produce no payments, got %d", len(payments))
	}
}
