package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/batr/trading-engine/internal/metrics"
	"github.com/batr/trading-engine/internal/model"
)

// Broadcaster fans a new sample out to connected subscribers.
type Broadcaster interface {
	BroadcastTick(s model.PriceSample)
}

// Marker applies a new mark price to every live position.
type Marker interface {
	MarkAll(price float64, now time.Time)
}

// TickStore persists price samples. Writes are best-effort mirrors of the
// in-memory history; failures never affect the tick cadence.
type TickStore interface {
	InsertPriceTick(ctx context.Context, s model.PriceSample) error
}

// Ticker owns the engine and drives it at a fixed cadence, publishing each
// sample to the history buffer, the broadcast hub, the position ledger,
// and the backing store. Ticks never overlap: the loop is the engine's
// single writer.
type Ticker struct {
	Engine   *Engine
	History  *History
	Hub      Broadcaster
	Ledger   Marker
	Store    TickStore
	Interval time.Duration
}

// Run blocks until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	interval := t.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("price engine started", "price", t.Engine.Price(), "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.tick(now)
		}
	}
}

func (t *Ticker) tick(now time.Time) {
	sample, move := t.Engine.Step(now)
	t.History.Append(sample)

	metrics.TicksTotal.WithLabelValues(string(move)).Inc()
	metrics.CurrentPrice.Set(sample.Price)

	switch move {
	case MoveCrash, MovePump, MoveBig:
		slog.Info("price shock", "kind", string(move), "price", sample.Price)
	}

	if t.Hub != nil {
		t.Hub.BroadcastTick(sample)
	}
	if t.Ledger != nil {
		t.Ledger.MarkAll(sample.Price, now)
	}
	if t.Store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := t.Store.InsertPriceTick(ctx, sample); err != nil {
				slog.Warn("price tick persist failed", "err", err)
			}
		}()
	}
}
