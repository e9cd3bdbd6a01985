// Package model defines the core domain types shared across the trading engine.
// Ledger monetary values use shopspring/decimal — never float64 for money.
// Market prices are float64 samples from the simulated price process and are
// converted to decimal at the ledger boundary.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a leveraged position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// PriceSample is one tick of the simulated market. Immutable once created.
type PriceSample struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// Position is one open leveraged position in a player's live ledger.
type Position struct {
	ID                string          `json:"id"`
	Player            string          `json:"player"`
	Token             string          `json:"token"`
	Side              Side            `json:"type"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	Leverage          int             `json:"leverage"`
	Size              decimal.Decimal `json:"size"`       // collateral × leverage
	Collateral        decimal.Decimal `json:"collateral"` // margin locked, post opening fee
	PnL               decimal.Decimal `json:"pnl"`
	PnLPercent        decimal.Decimal `json:"pnl_percent"`
	LiquidationPrice  decimal.Decimal `json:"liquidation_price"`
	FundingPaid       decimal.Decimal `json:"funding_paid"` // cumulative carrying cost charged so far
	IsLiquidated      bool            `json:"is_liquidated"`
	OpenedAt          time.Time       `json:"opened_at"`
	LastFundingUpdate time.Time       `json:"last_funding_update"`
}

// PlayerState is the live portfolio view for one player.
type PlayerState struct {
	Player     string          `json:"player"`
	Cash       decimal.Decimal `json:"cash"`
	Positions  []Position      `json:"positions"`
	TotalValue decimal.Decimal `json:"total_value"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPercent decimal.Decimal `json:"pnl_percent"`
	HighScore  decimal.Decimal `json:"high_score"`
}

// Player is the persisted player row mirrored by the in-memory ledger.
type Player struct {
	Key       string          `json:"player" db:"player_key"`
	Cash      decimal.Decimal `json:"cash" db:"cash"`
	HighScore decimal.Decimal `json:"high_score" db:"high_score"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// PositionRecord is the persisted form of a position. Open positions have
// only the opening fields set; close fields are written once, on close or
// liquidation, and never updated again.
type PositionRecord struct {
	ID           string          `json:"id" db:"id"`
	Player       string          `json:"player" db:"player_key"`
	Token        string          `json:"token" db:"token"`
	Side         Side            `json:"type" db:"side"`
	EntryPrice   decimal.Decimal `json:"entry_price" db:"entry_price"`
	Leverage     int             `json:"leverage" db:"leverage"`
	Size         decimal.Decimal `json:"size" db:"size"`
	Collateral   decimal.Decimal `json:"collateral" db:"collateral"`
	OpenedAt     time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	ClosePrice   decimal.Decimal `json:"close_price" db:"close_price"`
	PnL          decimal.Decimal `json:"pnl" db:"pnl"`
	IsLiquidated bool            `json:"is_liquidated" db:"is_liquidated"`
}

// PlayerStats aggregates a player's closed positions.
type PlayerStats struct {
	Player        string          `json:"player"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	BiggestWin    decimal.Decimal `json:"biggest_win"`
	BiggestLoss   decimal.Decimal `json:"biggest_loss"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	AvgHoldTime   time.Duration   `json:"avg_hold_time_ms"`
}

// LeaderboardEntry is one row of the high-score ranking.
type LeaderboardEntry struct {
	Player    string          `json:"player"`
	HighScore decimal.Decimal `json:"high_score"`
	Rank      int             `json:"rank"`
}
