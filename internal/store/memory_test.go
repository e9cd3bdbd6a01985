package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/batr/trading-engine/internal/model"
)

func TestMemoryStoreTickRetention(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.LastPrice(ctx); err != ErrNotFound {
		t.Errorf("LastPrice on empty store = %v, want ErrNotFound", err)
	}

	for i := 0; i < TickRetention+25; i++ {
		err := s.InsertPriceTick(ctx, model.PriceSample{Price: float64(i), Timestamp: int64(i)})
		if err != nil {
			t.Fatalf("insert tick: %v", err)
		}
	}

	if got := len(s.ticks); got != TickRetention {
		t.Errorf("retained ticks = %d, want %d", got, TickRetention)
	}
	price, err := s.LastPrice(ctx)
	if err != nil || price != float64(TickRetention+24) {
		t.Errorf("LastPrice = %v, %v", price, err)
	}
}

func TestMemoryStorePositionLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := &model.PositionRecord{
		ID: "p1", Player: "alice", Token: "BATR", Side: model.Long,
		EntryPrice: decimal.NewFromInt(100), Leverage: 5,
		Size: decimal.NewFromInt(499), Collateral: decimal.RequireFromString("99.8"),
		OpenedAt: opened,
	}
	if err := s.InsertPosition(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Still open: not part of closed history.
	records, _ := s.ClosedPositions(ctx, "alice", 10)
	if len(records) != 0 {
		t.Fatalf("closed records = %d, want 0", len(records))
	}

	closed := opened.Add(10 * time.Minute)
	err := s.ClosePosition(ctx, "p1", closed, decimal.NewFromInt(110), decimal.RequireFromString("47.405"), false)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.ClosePosition(ctx, "missing", closed, decimal.Zero, decimal.Zero, false); err != ErrNotFound {
		t.Errorf("close missing = %v, want ErrNotFound", err)
	}

	records, _ = s.ClosedPositions(ctx, "alice", 10)
	if len(records) != 1 || !records[0].PnL.Equal(decimal.RequireFromString("47.405")) {
		t.Fatalf("closed records = %+v", records)
	}

	stats, err := s.PlayerStats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTrades != 1 || stats.WinningTrades != 1 {
		t.Errorf("stats = %+v, want one winning trade", stats)
	}
	if stats.AvgHoldTime != 10*time.Minute {
		t.Errorf("avg hold = %v, want 10m", stats.AvgHoldTime)
	}
}

func TestMemoryStoreLeaderboardOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, p := range []struct {
		key   string
		score int64
	}{
		{"bronze", 1200}, {"gold", 9000}, {"silver", 4000}, {"tied", 4000},
	} {
		err := s.UpsertPlayer(ctx, &model.Player{
			Key: p.key, Cash: decimal.NewFromInt(1000), HighScore: decimal.NewFromInt(p.score),
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	entries, err := s.Leaderboard(ctx, 3)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// Ties break alphabetically for a stable ranking.
	wantOrder := []string{"gold", "silver", "tied"}
	for i, want := range wantOrder {
		if entries[i].Player != want || entries[i].Rank != i+1 {
			t.Errorf("entry %d = %+v, want %s at rank %d", i, entries[i], want, i+1)
		}
	}
}
