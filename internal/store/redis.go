package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/batr/trading-engine/internal/model"
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

func (s *CachedStore) UpsertPlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.UpsertPlayer(ctx, p); err != nil {
		return err
	}
	// Invalidate; next read re-populates. High scores feed the leaderboard.
	s.rdb.Del(ctx, playerKey(p.Key), leaderboardKey())
	return nil
}

func (s *CachedStore) InsertPosition(ctx context.Context, rec *model.PositionRecord) error {
	return s.primary.InsertPosition(ctx, rec)
}

func (s *CachedStore) ClosePosition(ctx context.Context, id string, closedAt time.Time, closePrice, pnl decimal.Decimal, liquidated bool) error {
	return s.primary.ClosePosition(ctx, id, closedAt, closePrice, pnl, liquidated)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPlayer(ctx context.Context, key string) (*model.Player, error) {
	data, err := s.rdb.Get(ctx, playerKey(key)).Bytes()
	if err == nil {
		var p model.Player
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPlayer(ctx, key)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, playerKey(key), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	data, err := s.rdb.Get(ctx, leaderboardKey()).Bytes()
	if err == nil {
		var entries []model.LeaderboardEntry
		if json.Unmarshal(data, &entries) == nil && len(entries) >= limit {
			return entries[:limit], nil
		}
	}

	entries, err := s.primary.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, leaderboardKey(), data, s.ttl)
	}
	return entries, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ClosedPositions(ctx context.Context, key string, limit int) ([]model.PositionRecord, error) {
	return s.primary.ClosedPositions(ctx, key, limit)
}

func (s *CachedStore) PlayerStats(ctx context.Context, key string) (*model.PlayerStats, error) {
	return s.primary.PlayerStats(ctx, key)
}

func (s *CachedStore) InsertPriceTick(ctx context.Context, sample model.PriceSample) error {
	return s.primary.InsertPriceTick(ctx, sample)
}

func (s *CachedStore) LastPrice(ctx context.Context) (float64, error) {
	return s.primary.LastPrice(ctx)
}

// --- Cache keys ---

func playerKey(key string) string { return fmt.Sprintf("player:%s", key) }
func leaderboardKey() string      { return "leaderboard" }
