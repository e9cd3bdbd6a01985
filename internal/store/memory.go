package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/batr/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	players   map[string]*model.Player
	positions map[string]*model.PositionRecord
	order     []string // position IDs in insertion order
	ticks     []model.PriceSample
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players:   make(map[string]*model.Player),
		positions: make(map[string]*model.PositionRecord),
	}
}

func (s *MemoryStore) GetPlayer(_ context.Context, key string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[key]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) UpsertPlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	if existing, ok := s.players[p.Key]; ok {
		copy.CreatedAt = existing.CreatedAt
	}
	s.players[p.Key] = &copy
	return nil
}

func (s *MemoryStore) InsertPosition(_ context.Context, rec *model.PositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *rec
	s.positions[rec.ID] = &copy
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *MemoryStore) ClosePosition(_ context.Context, id string, closedAt time.Time, closePrice, pnl decimal.Decimal, liquidated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.positions[id]
	if !ok {
		return ErrNotFound
	}
	t := closedAt
	rec.ClosedAt = &t
	rec.ClosePrice = closePrice
	rec.PnL = pnl
	rec.IsLiquidated = liquidated
	return nil
}

func (s *MemoryStore) ClosedPositions(_ context.Context, key string, limit int) ([]model.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PositionRecord
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.positions[s.order[i]]
		if rec.Player != key || rec.ClosedAt == nil {
			continue
		}
		result = append(result, *rec)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) PlayerStats(_ context.Context, key string) (*model.PlayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.PlayerStats{Player: key}
	var holdTotal time.Duration

	for _, id := range s.order {
		rec := s.positions[id]
		if rec.Player != key || rec.ClosedAt == nil {
			continue
		}
		stats.TotalTrades++
		stats.TotalVolume = stats.TotalVolume.Add(rec.Size)
		stats.TotalPnL = stats.TotalPnL.Add(rec.PnL)
		if rec.PnL.IsPositive() {
			stats.WinningTrades++
			if rec.PnL.GreaterThan(stats.BiggestWin) {
				stats.BiggestWin = rec.PnL
			}
		} else {
			stats.LosingTrades++
			if rec.PnL.LessThan(stats.BiggestLoss) {
				stats.BiggestLoss = rec.PnL
			}
		}
		holdTotal += rec.ClosedAt.Sub(rec.OpenedAt)
	}

	if stats.TotalTrades > 0 {
		stats.AvgHoldTime = holdTotal / time.Duration(stats.TotalTrades)
	}
	return stats, nil
}

func (s *MemoryStore) InsertPriceTick(_ context.Context, sample model.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks = append(s.ticks, sample)
	if len(s.ticks) > TickRetention {
		s.ticks = s.ticks[len(s.ticks)-TickRetention:]
	}
	return nil
}

func (s *MemoryStore) LastPrice(_ context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ticks) == 0 {
		return 0, ErrNotFound
	}
	return s.ticks[len(s.ticks)-1].Price, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.LeaderboardEntry, 0, len(s.players))
	for _, p := range s.players {
		entries = append(entries, model.LeaderboardEntry{
			Player:    p.Key,
			HighScore: p.HighScore,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].HighScore.Equal(entries[j].HighScore) {
			return entries[i].HighScore.GreaterThan(entries[j].HighScore)
		}
		return entries[i].Player < entries[j].Player
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
