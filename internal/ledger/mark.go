package ledger

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/batr/trading-engine/internal/metrics"
	"github.com/batr/trading-engine/internal/model"
)

// MarkAll applies a new mark price to every live position. Called once per
// tick by the price loop; entries are locked one at a time so a slow
// trade on one player cannot stall the whole pass.
func (l *Ledger) MarkAll(price float64, now time.Time) {
	l.mu.RLock()
	entries := make([]*playerEntry, 0, len(l.players))
	for _, e := range l.players {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	p := decimal.NewFromFloat(price)
	for _, e := range entries {
		e.mu.Lock()
		l.markEntry(e, p, now)
		e.mu.Unlock()
	}
}

// markEntry reprices one player's positions, accrues funding, and detects
// liquidations. Caller holds e.mu.
func (l *Ledger) markEntry(e *playerEntry, price decimal.Decimal, now time.Time) {
	for _, pos := range e.positions {
		if pos.IsLiquidated {
			continue
		}

		pos.CurrentPrice = price
		change := price.Sub(pos.EntryPrice).Div(pos.EntryPrice)
		pnl := pos.Size.Mul(change)
		if pos.Side == model.Short {
			pnl = pnl.Neg()
		}

		// Funding accrues in whole-hour steps on notional size and
		// erodes pnl for both sides. Catch-up covers multiple hours
		// in a single mark.
		if elapsed := now.Sub(pos.LastFundingUpdate); elapsed >= time.Hour {
			hours := int64(elapsed / time.Hour)
			fee := pos.Size.Mul(fundingRatePerHour).Mul(decimal.NewFromInt(hours))
			pos.FundingPaid = pos.FundingPaid.Add(fee)
			pos.LastFundingUpdate = pos.LastFundingUpdate.Add(time.Duration(hours) * time.Hour)
		}
		pnl = pnl.Sub(pos.FundingPaid)

		var liquidated bool
		if pos.Side == model.Long {
			liquidated = price.LessThanOrEqual(pos.LiquidationPrice)
		} else {
			liquidated = price.GreaterThanOrEqual(pos.LiquidationPrice)
		}

		if liquidated {
			// Terminal: the entire collateral is lost.
			pos.PnL = pos.Collateral.Neg()
			pos.PnLPercent = hundred.Neg()
			pos.IsLiquidated = true

			metrics.LiquidationsTotal.Inc()
			metrics.OpenPositions.Dec()
			slog.Info("position liquidated",
				"player", e.key, "position", pos.ID, "token", pos.Token,
				"side", pos.Side, "price", price.String(), "collateral", pos.Collateral.String())

			l.persistClose(pos.ID, now, price, pos.PnL, true, e.player(now))
			l.scheduleRemoval(e.key, pos.ID)
			continue
		}

		pos.PnL = pnl
		pos.PnLPercent = pnl.Div(pos.Collateral).Mul(hundred)
	}

	e.recompute(l.initialCash)
}

// scheduleRemoval drops a liquidated position after the grace window so
// clients can show the liquidation before it disappears.
func (l *Ledger) scheduleRemoval(player, positionID string) {
	time.AfterFunc(l.grace, func() {
		e, ok := l.lookup(player)
		if !ok {
			return
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, pos := range e.positions {
			if pos.ID == positionID && pos.IsLiquidated {
				e.positions = append(e.positions[:i], e.positions[i+1:]...)
				break
			}
		}
		e.recompute(l.initialCash)
	})
}
