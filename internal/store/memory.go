package store

import (
	"context"
	"sync"

	"github.com/simex/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing and
// for simulations that do not need a durable audit trail.
type MemoryStore struct {
	mu       sync.RWMutex
	trades   []model.Trade
	payments []model.FundingPayment
	equity   map[string][]model.EquityPoint // keyed by AccountRef string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		equity: make(map[string][]model.EquityPoint),
	}
}

func (s *MemoryStore) InsertTrade(_ context.Context, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *trade)
	return nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTradesByAccount(_ context.Context, ref model.AccountRef) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == ref.UserID && t.Account == ref.Account {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertFundingPayments(_ context.Context, payments []model.FundingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payments = append(s.payments, payments...)
	return nil
}

func (s *MemoryStore) ListFundingPaymentsByUser(_ context.Context, userID string) ([]model.FundingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FundingPayment
	for _, p := range s.payments {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertEquityPoints(_ context.Context, points []model.EquityPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		key := p.Ref.String()
		s.equity[key] = append(s.equity[key], p)
	}
	return nil
}

func (s *MemoryStore) ListEquityHistory(_ context.Context, ref model.AccountRef, limit int) ([]model.EquityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.equity[ref.String()]
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	result := make([]model.EquityPoint, len(points))
	copy(result, points)
	return result, nil
}
