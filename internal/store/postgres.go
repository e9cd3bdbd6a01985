package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/batr/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS players (
			player_key  TEXT PRIMARY KEY,
			cash        NUMERIC NOT NULL,
			high_score  NUMERIC NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS positions (
			id            TEXT PRIMARY KEY,
			player_key    TEXT NOT NULL,
			token         TEXT NOT NULL,
			side          TEXT NOT NULL,
			entry_price   NUMERIC NOT NULL,
			leverage      INT NOT NULL,
			size          NUMERIC NOT NULL,
			collateral    NUMERIC NOT NULL,
			opened_at     TIMESTAMPTZ NOT NULL,
			closed_at     TIMESTAMPTZ,
			close_price   NUMERIC,
			pnl           NUMERIC,
			is_liquidated BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_positions_player ON positions (player_key, opened_at DESC);

		CREATE TABLE IF NOT EXISTS price_ticks (
			id        BIGSERIAL PRIMARY KEY,
			price     DOUBLE PRECISION NOT NULL,
			ts        BIGINT NOT NULL
		);
	`)
	return err
}

func (s *PostgresStore) GetPlayer(ctx context.Context, key string) (*model.Player, error) {
	var p model.Player
	var cash, highScore string

	err := s.pool.QueryRow(ctx,
		`SELECT player_key, cash::TEXT, high_score::TEXT, created_at, updated_at
		 FROM players WHERE player_key = $1`, key).
		Scan(&p.Key, &cash, &highScore, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", key, err)
	}

	p.Cash, _ = decimal.NewFromString(cash)
	p.HighScore, _ = decimal.NewFromString(highScore)

	return &p, nil
}

func (s *PostgresStore) UpsertPlayer(ctx context.Context, p *model.Player) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (player_key, cash, high_score, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)
		 ON CONFLICT (player_key) DO UPDATE
		 SET cash = EXCLUDED.cash,
		     high_score = GREATEST(players.high_score, EXCLUDED.high_score),
		     updated_at = EXCLUDED.updated_at`,
		p.Key, p.Cash.String(), p.HighScore.String(), p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) InsertPosition(ctx context.Context, rec *model.PositionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, player_key, token, side, entry_price, leverage, size, collateral, opened_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
		rec.ID, rec.Player, rec.Token, rec.Side,
		rec.EntryPrice.String(), rec.Leverage,
		rec.Size.String(), rec.Collateral.String(),
		rec.OpenedAt,
	)
	return err
}

func (s *PostgresStore) ClosePosition(ctx context.Context, id string, closedAt time.Time, closePrice, pnl decimal.Decimal, liquidated bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET closed_at = $2, close_price = $3::NUMERIC, pnl = $4::NUMERIC, is_liquidated = $5
		 WHERE id = $1 AND closed_at IS NULL`,
		id, closedAt, closePrice.String(), pnl.String(), liquidated,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ClosedPositions(ctx context.Context, key string, limit int) ([]model.PositionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, player_key, token, side,
		        entry_price::TEXT, leverage, size::TEXT, collateral::TEXT,
		        opened_at, closed_at, close_price::TEXT, pnl::TEXT, is_liquidated
		 FROM positions
		 WHERE player_key = $1 AND closed_at IS NOT NULL
		 ORDER BY closed_at DESC
		 LIMIT $2`, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.PositionRecord
	for rows.Next() {
		var rec model.PositionRecord
		var entryS, sizeS, collateralS string
		var closePriceS, pnlS *string

		if err := rows.Scan(&rec.ID, &rec.Player, &rec.Token, &rec.Side,
			&entryS, &rec.Leverage, &sizeS, &collateralS,
			&rec.OpenedAt, &rec.ClosedAt, &closePriceS, &pnlS, &rec.IsLiquidated); err != nil {
			return nil, err
		}
		rec.EntryPrice, _ = decimal.NewFromString(entryS)
		rec.Size, _ = decimal.NewFromString(sizeS)
		rec.Collateral, _ = decimal.NewFromString(collateralS)
		if closePriceS != nil {
			rec.ClosePrice, _ = decimal.NewFromString(*closePriceS)
		}
		if pnlS != nil {
			rec.PnL, _ = decimal.NewFromString(*pnlS)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) PlayerStats(ctx context.Context, key string) (*model.PlayerStats, error) {
	stats := &model.PlayerStats{Player: key}
	var volumeS, winS, lossS, pnlS string
	var avgHoldMs float64

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE pnl > 0),
		        COUNT(*) FILTER (WHERE pnl <= 0),
		        COALESCE(SUM(size), 0)::TEXT,
		        COALESCE(MAX(pnl) FILTER (WHERE pnl > 0), 0)::TEXT,
		        COALESCE(MIN(pnl) FILTER (WHERE pnl <= 0), 0)::TEXT,
		        COALESCE(SUM(pnl), 0)::TEXT,
		        COALESCE(AVG(EXTRACT(EPOCH FROM (closed_at - opened_at)) * 1000), 0)
		 FROM positions
		 WHERE player_key = $1 AND closed_at IS NOT NULL`, key).
		Scan(&stats.TotalTrades, &stats.WinningTrades, &stats.LosingTrades,
			&volumeS, &winS, &lossS, &pnlS, &avgHoldMs)
	if err != nil {
		return nil, fmt.Errorf("player stats %s: %w", key, err)
	}

	stats.TotalVolume, _ = decimal.NewFromString(volumeS)
	stats.BiggestWin, _ = decimal.NewFromString(winS)
	stats.BiggestLoss, _ = decimal.NewFromString(lossS)
	stats.TotalPnL, _ = decimal.NewFromString(pnlS)
	stats.AvgHoldTime = time.Duration(avgHoldMs) * time.Millisecond

	return stats, nil
}

func (s *PostgresStore) InsertPriceTick(ctx context.Context, sample model.PriceSample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_ticks (price, ts) VALUES ($1, $2)`,
		sample.Price, sample.Timestamp,
	)
	if err != nil {
		return err
	}
	// Trim beyond the retained window; cheap at one insert per second.
	_, err = s.pool.Exec(ctx,
		`DELETE FROM price_ticks
		 WHERE id <= (SELECT MAX(id) FROM price_ticks) - $1`, TickRetention)
	return err
}

func (s *PostgresStore) LastPrice(ctx context.Context) (float64, error) {
	var price float64
	err := s.pool.QueryRow(ctx,
		`SELECT price FROM price_ticks ORDER BY id DESC LIMIT 1`).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("last price: %w", err)
	}
	return price, nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT player_key, high_score::TEXT
		 FROM players
		 ORDER BY high_score DESC, player_key
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		var scoreS string
		if err := rows.Scan(&e.Player, &scoreS); err != nil {
			return nil, err
		}
		e.HighScore, _ = decimal.NewFromString(scoreS)
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
