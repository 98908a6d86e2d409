package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth
// for the audit trail. All monetary values are stored as NUMERIC for
// exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, account, side, size, price, notional, fee, realized_pnl, reduce, liquidation, tick_index, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13)`,
		t.ID, t.UserID, t.Account, t.Side,
		t.Size.String(), t.Price.String(), t.Notional.String(),
		t.Fee.String(), t.RealizedPnL.String(),
		t.Reduce, t.Liquidation, t.TickIndex, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

const tradeColumns = `id, user_id, account, side,
	size::TEXT, price::TEXT, notional::TEXT, fee::TEXT, realized_pnl::TEXT,
	reduce, liquidation, tick_index, timestamp`

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades WHERE user_id = $1 ORDER BY tick_index, timestamp, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesByAccount(ctx context.Context, ref model.AccountRef) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades WHERE user_id = $1 AND account = $2 ORDER BY tick_index, timestamp, id`,
		ref.UserID, ref.Account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) InsertFundingPayments(ctx context.Context, payments []model.FundingPayment) error {
	for i := range payments {
		p := &payments[i]
		_, err := s.pool.Exec(ctx,
			`INSERT INTO funding_payments (user_id, account, side, position_size, mark_price, funding_rate, payment, tick_index, timestamp)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
			p.UserID, p.Account, p.Side,
			p.PositionSize.String(), p.MarkPrice.String(),
			p.FundingRate.String(), p.Payment.String(),
			p.TickIndex, p.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert funding payment for %s: %w", p.UserID, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListFundingPaymentsByUser(ctx context.Context, userID string) ([]model.FundingPayment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, account, side,
		        position_size::TEXT, mark_price::TEXT, funding_rate::TEXT, payment::TEXT,
		        tick_index, timestamp
		 FROM funding_payments WHERE user_id = $1 ORDER BY tick_index, account`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []model.FundingPayment
	for rows.Next() {
		var p model.FundingPayment
		var sizeS, markS, rateS, paymentS string

		if err := rows.Scan(&p.UserID, &p.Account, &p.Side,
			&sizeS, &markS, &rateS, &paymentS,
			&p.TickIndex, &p.Timestamp); err != nil {
			return nil, err
		}

		p.PositionSize, _ = decimal.NewFromString(sizeS)
		p.MarkPrice, _ = decimal.NewFromString(markS)
		p.FundingRate, _ = decimal.NewFromString(rateS)
		p.Payment, _ = decimal.NewFromString(paymentS)

		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *PostgresStore) InsertEquityPoints(ctx context.Context, points []model.EquityPoint) error {
	for i := range points {
		p := &points[i]
		_, err := s.pool.Exec(ctx,
			`INSERT INTO equity_history (user_id, account, tick_index, timestamp, equity)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC)`,
			p.Ref.UserID, p.Ref.Account, p.TickIndex, p.Timestamp, p.Equity.String(),
		)
		if err != nil {
			return fmt.Errorf("insert equity point for %s: %w", p.Ref, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListEquityHistory(ctx context.Context, ref model.AccountRef, limit int) ([]model.EquityPoint, error) {
	query := `SELECT tick_index, timestamp, equity::TEXT
	          FROM equity_history WHERE user_id = $1 AND account = $2 ORDER BY tick_index`
	args := []interface{}{ref.UserID, ref.Account}
	if limit > 0 {
		// Most recent N points, returned oldest first.
		query = `SELECT tick_index, timestamp, equity::TEXT FROM (
		           SELECT tick_index, timestamp, equity FROM equity_history
		           WHERE user_id = $1 AND account = $2 ORDER BY tick_index DESC LIMIT $3
		         ) recent ORDER BY tick_index`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.EquityPoint
	for rows.Next() {
		p := model.EquityPoint{Ref: ref}
		var equityS string

		if err := rows.Scan(&p.TickIndex, &p.Timestamp, &equityS); err != nil {
			return nil, err
		}
		p.Equity, _ = decimal.NewFromString(equityS)

		points = append(points, p)
	}
	return points, rows.Err()
}

// scanTrades reads pgx rows into Trade slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var sizeS, priceS, notionalS, feeS, pnlS string

		if err := rows.Scan(&t.ID, &t.UserID, &t.Account, &t.Side,
			&sizeS, &priceS, &notionalS, &feeS, &pnlS,
			&t.Reduce, &t.Liquidation, &t.TickIndex, &t.Timestamp); err != nil {
			return nil, err
		}

		t.Size, _ = decimal.NewFromString(sizeS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Notional, _ = decimal.NewFromString(notionalS)
		t.Fee, _ = decimal.NewFromString(feeS)
		t.RealizedPnL, _ = decimal.NewFromString(pnlS)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
