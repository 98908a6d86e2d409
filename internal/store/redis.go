package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/simex/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	// Invalidate trade caches for this user; next read re-populates.
	s.rdb.Del(ctx, userTradesKey(t.UserID),
		accountTradesKey(model.AccountRef{UserID: t.UserID, Account: t.Account}))
	return nil
}

func (s *CachedStore) InsertFundingPayments(ctx context.Context, payments []model.FundingPayment) error {
	if err := s.primary.InsertFundingPayments(ctx, payments); err != nil {
		return err
	}
	for i := range payments {
		s.rdb.Del(ctx, fundingKey(payments[i].UserID))
	}
	return nil
}

func (s *CachedStore) InsertEquityPoints(ctx context.Context, points []model.EquityPoint) error {
	if err := s.primary.InsertEquityPoints(ctx, points); err != nil {
		return err
	}
	for i := range points {
		s.rdb.Del(ctx, equityKey(points[i].Ref))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, userTradesKey(userID)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	// Cache miss: read from primary.
	trades, err := s.primary.ListTradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, userTradesKey(userID), data, s.ttl)
	}
	return trades, nil
}

func (s *CachedStore) ListTradesByAccount(ctx context.Context, ref model.AccountRef) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, accountTradesKey(ref)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.ListTradesByAccount(ctx, ref)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, accountTradesKey(ref), data, s.ttl)
	}
	return trades, nil
}

func (s *CachedStore) ListEquityHistory(ctx context.Context, ref model.AccountRef, limit int) ([]model.EquityPoint, error) {
	// Only full-history reads are cached; limited reads pass through.
	if limit > 0 {
		return s.primary.ListEquityHistory(ctx, ref, limit)
	}

	data, err := s.rdb.Get(ctx, equityKey(ref)).Bytes()
	if err == nil {
		var points []model.EquityPoint
		if json.Unmarshal(data, &points) == nil {
			return points, nil
		}
	}

	points, err := s.primary.ListEquityHistory(ctx, ref, 0)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(points); err == nil {
		s.rdb.Set(ctx, equityKey(ref), data, s.ttl)
	}
	return points, nil
}

func (s *CachedStore) ListFundingPaymentsByUser(ctx context.Context, userID string) ([]model.FundingPayment, error) {
	data, err := s.rdb.Get(ctx, fundingKey(userID)).Bytes()
	if err == nil {
		var payments []model.FundingPayment
		if json.Unmarshal(data, &payments) == nil {
			return payments, nil
		}
	}

	payments, err := s.primary.ListFundingPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(payments); err == nil {
		s.rdb.Set(ctx, fundingKey(userID), data, s.ttl)
	}
	return payments, nil
}

// --- Cache helpers ---

func userTradesKey(uid string) string { return fmt.Sprintf("trades:user:%s", uid) }

func accountTradesKey(ref model.AccountRef) string {
	return fmt.Sprintf("trades:account:%s", ref)
}

func fundingKey(uid string) string { return fmt.Sprintf("funding:%s", uid) }

func equityKey(ref model.AccountRef) string { return fmt.Sprintf("equity:%s", ref) }
