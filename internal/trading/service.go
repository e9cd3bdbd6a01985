// Package trading provides the HTTP handlers for the leveraged trading
// game: price snapshots, position lifecycle, player state, and rankings.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trading

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/batr/trading-engine/internal/ledger"
	"github.com/batr/trading-engine/internal/market"
	"github.com/batr/trading-engine/internal/metrics"
	"github.com/batr/trading-engine/internal/model"
	"github.com/batr/trading-engine/internal/store"
)

// Service handles the game's HTTP API. Trading goes through the ledger;
// reads of closed history, stats, and rankings go to the store.
type Service struct {
	ledger  *ledger.Ledger
	store   store.Store
	history *market.History
}

// NewService creates a new trading service.
func NewService(l *ledger.Ledger, st store.Store, history *market.History) *Service {
	return &Service{
		ledger:  l,
		store:   st,
		history: history,
	}
}

// --- Request/Response types ---

// OpenPositionRequest is the JSON body for POST /positions/open.
// EntryPrice of zero means "fill at the current market price".
type OpenPositionRequest struct {
	Player     string          `json:"player"`
	Token      string          `json:"token"`
	Side       model.Side      `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Leverage   int             `json:"leverage"`
	EntryPrice float64         `json:"entry_price"`
}

// ClosePositionRequest is the JSON body for POST /positions/close.
type ClosePositionRequest struct {
	Player     string `json:"player"`
	PositionID string `json:"position_id"`
}

// --- HTTP Handlers ---

// GetPrice handles GET /api/v1/price
// Returns the same snapshot shape the WebSocket feed pushes.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.history.Latest()
	if !ok {
		writeError(w, "no price available yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, PriceUpdate{
		Price:     latest.Price,
		History:   s.history.LastN(snapshotSize),
		Timestamp: latest.Timestamp,
	})
}

// OpenPosition handles POST /api/v1/positions/open
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Player == "" {
		writeError(w, "player is required", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		writeError(w, "token is required", http.StatusBadRequest)
		return
	}

	price := req.EntryPrice
	if price <= 0 {
		latest, ok := s.history.Latest()
		if !ok {
			writeError(w, "no price available yet", http.StatusServiceUnavailable)
			return
		}
		price = latest.Price
	}

	pos, err := s.ledger.Open(r.Context(), ledger.OpenRequest{
		Player:   req.Player,
		Token:    req.Token,
		Side:     req.Side,
		Amount:   req.Amount,
		Leverage: req.Leverage,
		Price:    price,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// ClosePosition handles POST /api/v1/positions/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Player == "" || req.PositionID == "" {
		writeError(w, "player and position_id are required", http.StatusBadRequest)
		return
	}

	result, err := s.ledger.Close(r.Context(), req.Player, req.PositionID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetPositions handles GET /api/v1/positions/{player}
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	state := s.ledger.State(r.Context(), player)
	writeJSON(w, http.StatusOK, state.Positions)
}

// GetPlayer handles GET /api/v1/players/{player}
// Initializes the player on first contact.
func (s *Service) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	state := s.ledger.State(r.Context(), player)
	writeJSON(w, http.StatusOK, state)
}

// GetPlayerHistory handles GET /api/v1/players/{player}/history
// Returns closed positions, newest first. Optional ?limit, default 50.
func (s *Service) GetPlayerHistory(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	limit := queryInt(r, "limit", 50)

	records, err := s.store.ClosedPositions(r.Context(), player, limit)
	if err != nil {
		writeError(w, "failed to load position history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetPlayerStats handles GET /api/v1/players/{player}/stats
func (s *Service) GetPlayerStats(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")

	stats, err := s.store.PlayerStats(r.Context(), player)
	if err != nil {
		writeError(w, "failed to load player stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetLeaderboard handles GET /api/v1/leaderboard
// Optional ?limit, default 10.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)

	entries, err := s.store.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// writeLedgerError maps ledger errors to HTTP statuses and records the
// rejection. Validation problems are 400s; business rejections are 409s.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	reason := "internal"

	switch {
	case errors.Is(err, ledger.ErrInvalidSide):
		status, reason = http.StatusBadRequest, "invalid_side"
	case errors.Is(err, ledger.ErrInvalidLeverage):
		status, reason = http.StatusBadRequest, "invalid_leverage"
	case errors.Is(err, ledger.ErrInvalidAmount):
		status, reason = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidPrice):
		status, reason = http.StatusBadRequest, "invalid_price"
	case errors.Is(err, ledger.ErrDuplicateToken):
		status, reason = http.StatusConflict, "duplicate_token"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status, reason = http.StatusConflict, "insufficient_funds"
	case errors.Is(err, ledger.ErrMaxCollateral):
		status, reason = http.StatusConflict, "max_collateral"
	case errors.Is(err, ledger.ErrAlreadyLiquidated):
		status, reason = http.StatusConflict, "already_liquidated"
	case errors.Is(err, ledger.ErrPositionNotFound):
		status, reason = http.StatusNotFound, "position_not_found"
	}

	metrics.TradeRejections.WithLabelValues(reason).Inc()
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
