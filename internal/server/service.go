// Package server provides the HTTP handlers for driving the simulation
// (step, reset) and for querying snapshots, trades, funding history, and
// equity trajectories.
//
// All monetary values use shopspring/decimal — never float64 for money.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/simex/risk-engine/internal/engine"
	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/store"
)

// Service wires the engine and the audit store behind HTTP. The engine
// serializes tick execution internally; handlers stay lock-free.
type Service struct {
	engine *engine.Engine
	store  store.Store
	log    *zap.Logger
	wsHub  *WSHub // optional hub for real-time tick broadcasts
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(eng *engine.Engine, st store.Store, log *zap.Logger, hub *WSHub) *Service {
	return &Service{engine: eng, store: st, log: log, wsHub: hub}
}

// Routes mounts all handlers under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/step", s.Step)
		r.Post("/reset", s.Reset)
		r.Get("/snapshot", s.GetSnapshot)
		r.Get("/accounts/{ref}/trades", s.GetAccountTrades)
		r.Get("/accounts/{ref}/equity", s.GetEquityHistory)
		r.Get("/trades/{userID}", s.GetUserTrades)
		r.Get("/funding/{userID}", s.GetUserFunding)
		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}
	})
}

// --- Request/Response types ---

// StepRequest is the JSON body for POST /api/v1/step.
type StepRequest struct {
	Orders []model.Order `json:"orders"`
}

// ResetResponse is the JSON body returned from POST /api/v1/reset.
type ResetResponse struct {
	Equities map[string]string `json:"equities"`
}

// --- HTTP Handlers ---

// Step handles POST /api/v1/step
// Processes one tick with the supplied order batch.
func (s *Service) Step(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.engine.Step(r.Context(), req.Orders)
	if err != nil {
		if errors.Is(err, engine.ErrFeedExhausted) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.Info("tick processed",
		zap.Int64("tick", result.TickIndex),
		zap.String("mark", result.Mark.String()),
		zap.Int("orders", len(result.Outcomes)),
		zap.Int("liquidations", len(result.Liquidations)),
		zap.Bool("done", result.Done),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "tick",
			TickIndex:    result.TickIndex,
			Mark:         result.Mark.String(),
			Liquidations: len(result.Liquidations),
			BaseEquity:   result.BaseEquity.String(),
			Reward:       result.Reward.String(),
			Done:         result.Done,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Reset handles POST /api/v1/reset
// Reinitializes all ledgers and positions to configured state.
func (s *Service) Reset(w http.ResponseWriter, r *http.Request) {
	equities := s.engine.Reset(r.Context())

	resp := ResetResponse{Equities: make(map[string]string, len(equities))}
	for ref, eq := range equities {
		resp.Equities[ref] = eq.String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetSnapshot handles GET /api/v1/snapshot
// Read-only view of every account at the current mark.
func (s *Service) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// GetAccountTrades handles GET /api/v1/accounts/{ref}/trades
func (s *Service) GetAccountTrades(w http.ResponseWriter, r *http.Request) {
	ref, err := model.ParseAccountRef(chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	trades, err := s.store.ListTradesByAccount(r.Context(), ref)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetEquityHistory handles GET /api/v1/accounts/{ref}/equity
// Optional ?limit=N returns the most recent N points.
func (s *Service) GetEquityHistory(w http.ResponseWriter, r *http.Request) {
	ref, err := model.ParseAccountRef(chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	points, err := s.store.ListEquityHistory(r.Context(), ref, limit)
	if err != nil {
		writeError(w, "failed to list equity history", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []model.EquityPoint{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}

// GetUserTrades handles GET /api/v1/trades/{userID}
func (s *Service) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	trades, err := s.store.ListTradesByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetUserFunding handles GET /api/v1/funding/{userID}
func (s *Service) GetUserFunding(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	payments, err := s.store.ListFundingPaymentsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list funding payments", http.StatusInternalServerError)
		return
	}
	if payments == nil {
		payments = []model.FundingPayment{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payments)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
