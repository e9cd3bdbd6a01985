// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Persistence mirrors the in-memory game state; the ledger never blocks on
// it. A write failure loses at most one update.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/batr/trading-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Players ---

	// GetPlayer retrieves a player row, or ErrNotFound.
	GetPlayer(ctx context.Context, key string) (*model.Player, error)

	// UpsertPlayer inserts or updates a player's cash and high score.
	UpsertPlayer(ctx context.Context, p *model.Player) error

	// --- Position records ---

	// InsertPosition appends a newly opened position record.
	InsertPosition(ctx context.Context, rec *model.PositionRecord) error

	// ClosePosition writes the terminal fields of a position record.
	// Called exactly once per position, on close or liquidation.
	ClosePosition(ctx context.Context, id string, closedAt time.Time, closePrice, pnl decimal.Decimal, liquidated bool) error

	// ClosedPositions returns a player's closed positions, newest first.
	ClosedPositions(ctx context.Context, key string, limit int) ([]model.PositionRecord, error)

	// PlayerStats aggregates a player's closed positions.
	PlayerStats(ctx context.Context, key string) (*model.PlayerStats, error)

	// --- Price ticks ---

	// InsertPriceTick appends a price sample, trimming old rows beyond
	// the retained window.
	InsertPriceTick(ctx context.Context, s model.PriceSample) error

	// LastPrice returns the most recently persisted price, or ErrNotFound.
	LastPrice(ctx context.Context) (float64, error)

	// --- Rankings ---

	// Leaderboard returns the top players by high score.
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

// TickRetention is how many persisted price samples are kept. Matches the
// in-memory history window so a restart can reseed from the store.
const TickRetention = 300
