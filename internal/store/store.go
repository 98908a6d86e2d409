// Package store defines the persistence interface for the engine's audit
// history. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing and pure simulation).
package store

import (
	"context"

	"github.com/simex/risk-engine/internal/model"
)

// Store is the persistence interface. The engine's in-memory state is
// authoritative during a run; the store is the durable audit trail read by
// external collaborators, so store writes never gate trade execution
// semantics.
type Store interface {
	// --- Immutable trade ledger ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// ListTradesByUser returns all trades for a user in append order.
	ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// ListTradesByAccount returns all trades for one (user, account) pair.
	ListTradesByAccount(ctx context.Context, ref model.AccountRef) ([]model.Trade, error)

	// --- Funding settlement history ---

	// InsertFundingPayments appends the payments of one settlement.
	InsertFundingPayments(ctx context.Context, payments []model.FundingPayment) error

	// ListFundingPaymentsByUser returns a user's funding payment history.
	ListFundingPaymentsByUser(ctx context.Context, userID string) ([]model.FundingPayment, error)

	// --- Equity trajectory ---

	// InsertEquityPoints appends one tick's equity samples.
	InsertEquityPoints(ctx context.Context, points []model.EquityPoint) error

	// ListEquityHistory returns the most recent equity samples for one
	// account, oldest first. limit <= 0 means no limit.
	ListEquityHistory(ctx context.Context, ref model.AccountRef, limit int) ([]model.EquityPoint, error)
}
