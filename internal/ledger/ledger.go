// Package ledger implements the leveraged position accounting for the
// trading game: per-player cash balances, position lifecycle (open,
// mark-to-market, funding, liquidation, close), and portfolio aggregates.
//
// All monetary arithmetic uses shopspring/decimal. Market prices arrive as
// float64 samples and are converted to decimal at this boundary.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/batr/trading-engine/internal/metrics"
	"github.com/batr/trading-engine/internal/model"
	"github.com/batr/trading-engine/internal/store"
)

var (
	ErrInvalidSide       = errors.New("ledger: position type must be LONG or SHORT")
	ErrInvalidLeverage   = errors.New("ledger: leverage must be an integer between 1 and 10")
	ErrInvalidAmount     = errors.New("ledger: amount must be positive")
	ErrInvalidPrice      = errors.New("ledger: entry price must be positive")
	ErrDuplicateToken    = errors.New("ledger: open position already exists for token")
	ErrInsufficientFunds = errors.New("ledger: insufficient cash")
	ErrMaxCollateral     = errors.New("ledger: amount exceeds maximum share of portfolio value")
	ErrPositionNotFound  = errors.New("ledger: position not found")
	ErrAlreadyLiquidated = errors.New("ledger: position already liquidated")
)

// MaxLeverage bounds position leverage.
const MaxLeverage = 10

// Monetary constants of the game economy.
var (
	defaultInitialCash = decimal.NewFromInt(1000)

	// Opening and closing fee rates, tiered by portfolio value.
	baseFeeRate = decimal.NewFromFloat(0.002) // below 5k
	midFeeRate  = decimal.NewFromFloat(0.003) // 5k and above
	topFeeRate  = decimal.NewFromFloat(0.005) // 10k and above
	midFeeTier  = decimal.NewFromInt(5000)
	topFeeTier  = decimal.NewFromInt(10000)

	// profitFeeRate is charged on positive pnl at close.
	profitFeeRate = decimal.NewFromFloat(0.05)

	// maxCollateralRatio caps a single position's posted amount relative
	// to total portfolio value.
	maxCollateralRatio = decimal.NewFromFloat(0.8)

	// fundingRatePerHour is the hourly carrying cost charged on notional
	// size, the same for both sides.
	fundingRatePerHour = decimal.NewFromFloat(0.0005)

	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// defaultLiquidationGrace is how long a liquidated position stays visible
// before removal.
const defaultLiquidationGrace = 3 * time.Second

// Config tunes a Ledger. The zero value selects production defaults.
type Config struct {
	InitialCash      decimal.Decimal // starting cash for new players
	LiquidationGrace time.Duration   // delay before liquidated positions disappear
	Now              func() time.Time
}

// Ledger is the registry of live player states. The price tick loop calls
// MarkAll; HTTP handlers call Open, Close, and the read accessors. Each
// player entry carries its own mutex, so trading on one player never
// blocks another.
type Ledger struct {
	mu      sync.RWMutex
	players map[string]*playerEntry

	store       store.Store // optional persistence mirror
	initialCash decimal.Decimal
	grace       time.Duration
	now         func() time.Time
}

type playerEntry struct {
	mu        sync.Mutex
	key       string
	cash      decimal.Decimal
	positions []*model.Position

	totalValue decimal.Decimal
	pnl        decimal.Decimal
	pnlPercent decimal.Decimal
	highScore  decimal.Decimal
}

// New creates a ledger backed by the given store. A nil store disables
// persistence; the game runs entirely in memory.
func New(st store.Store, cfg Config) *Ledger {
	l := &Ledger{
		players:     make(map[string]*playerEntry),
		store:       st,
		initialCash: cfg.InitialCash,
		grace:       cfg.LiquidationGrace,
		now:         cfg.Now,
	}
	if l.initialCash.IsZero() {
		l.initialCash = defaultInitialCash
	}
	if l.grace <= 0 {
		l.grace = defaultLiquidationGrace
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// feeRateFor returns the trade fee rate for a portfolio of the given value.
func feeRateFor(totalValue decimal.Decimal) decimal.Decimal {
	switch {
	case totalValue.GreaterThanOrEqual(topFeeTier):
		return topFeeRate
	case totalValue.GreaterThanOrEqual(midFeeTier):
		return midFeeRate
	default:
		return baseFeeRate
	}
}

// entry returns the live entry for a player, creating it on first contact.
// New entries seed cash and high score from the store when available,
// falling back to the configured starting cash.
func (l *Ledger) entry(ctx context.Context, key string) *playerEntry {
	l.mu.RLock()
	e, ok := l.players[key]
	l.mu.RUnlock()
	if ok {
		return e
	}

	cash := l.initialCash
	highScore := l.initialCash
	if l.store != nil {
		p, err := l.store.GetPlayer(ctx, key)
		switch {
		case err == nil:
			cash = p.Cash
			highScore = p.HighScore
		case !errors.Is(err, store.ErrNotFound):
			slog.Warn("player load failed, starting fresh", "player", key, "err", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.players[key]; ok {
		return e
	}
	e = &playerEntry{
		key:        key,
		cash:       cash,
		totalValue: cash,
		highScore:  highScore,
	}
	l.players[key] = e
	return e
}

// lookup returns an existing entry without creating one.
func (l *Ledger) lookup(key string) (*playerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.players[key]
	return e, ok
}

// State returns the live portfolio view for a player, initializing the
// player on first contact.
func (l *Ledger) State(ctx context.Context, key string) model.PlayerState {
	e := l.entry(ctx, key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// OpenRequest describes a position open.
type OpenRequest struct {
	Player   string
	Token    string
	Side     model.Side
	Amount   decimal.Decimal // cash posted, fee inclusive
	Leverage int
	Price    float64 // entry mark price
}

// Open validates and opens a leveraged position, debiting the posted
// amount from the player's cash.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (model.Position, error) {
	if req.Side != model.Long && req.Side != model.Short {
		return model.Position{}, ErrInvalidSide
	}
	if req.Leverage < 1 || req.Leverage > MaxLeverage {
		return model.Position{}, ErrInvalidLeverage
	}
	if !req.Amount.IsPositive() {
		return model.Position{}, ErrInvalidAmount
	}
	if req.Price <= 0 {
		return model.Position{}, ErrInvalidPrice
	}

	e := l.entry(ctx, req.Player)
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, pos := range e.positions {
		if !pos.IsLiquidated && pos.Token == req.Token {
			return model.Position{}, ErrDuplicateToken
		}
	}
	if req.Amount.GreaterThan(e.cash) {
		return model.Position{}, ErrInsufficientFunds
	}
	if req.Amount.GreaterThan(e.totalValue.Mul(maxCollateralRatio)) {
		return model.Position{}, ErrMaxCollateral
	}

	fee := req.Amount.Mul(feeRateFor(e.totalValue))
	collateral := req.Amount.Sub(fee)
	leverage := decimal.NewFromInt(int64(req.Leverage))
	size := collateral.Mul(leverage)
	entryPrice := decimal.NewFromFloat(req.Price)

	// Liquidation is where adverse movement wipes the collateral:
	// a 1/leverage move against the entry.
	liqDistance := one.Div(leverage)
	var liqPrice decimal.Decimal
	if req.Side == model.Long {
		liqPrice = entryPrice.Mul(one.Sub(liqDistance))
	} else {
		liqPrice = entryPrice.Mul(one.Add(liqDistance))
	}

	now := l.now()
	pos := &model.Position{
		ID:                uuid.New().String(),
		Player:            req.Player,
		Token:             req.Token,
		Side:              req.Side,
		EntryPrice:        entryPrice,
		CurrentPrice:      entryPrice,
		Leverage:          req.Leverage,
		Size:              size,
		Collateral:        collateral,
		LiquidationPrice:  liqPrice,
		OpenedAt:          now,
		LastFundingUpdate: now,
	}

	e.cash = e.cash.Sub(req.Amount)
	e.positions = append(e.positions, pos)
	e.recompute(l.initialCash)

	metrics.TradesTotal.WithLabelValues(string(req.Side)).Inc()
	metrics.OpenPositions.Inc()
	slog.Info("position opened",
		"player", req.Player, "token", req.Token, "side", req.Side,
		"entry", entryPrice.String(), "leverage", req.Leverage,
		"collateral", collateral.String(), "fee", fee.String())

	l.persistOpen(pos, e.player(now))

	return *pos, nil
}

// CloseResult summarizes a voluntary close.
type CloseResult struct {
	Position     model.Position  `json:"position"`
	ClosingFee   decimal.Decimal `json:"closing_fee"`
	ProfitFee    decimal.Decimal `json:"profit_fee"`
	CashReturned decimal.Decimal `json:"cash_returned"`
	Cash         decimal.Decimal `json:"cash"`
}

// Close settles a position at its current mark price, crediting the
// remaining collateral and realized pnl back to cash. Liquidated
// positions cannot be closed.
func (l *Ledger) Close(ctx context.Context, player, positionID string) (CloseResult, error) {
	e, ok := l.lookup(player)
	if !ok {
		return CloseResult{}, ErrPositionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := -1
	for i, pos := range e.positions {
		if pos.ID == positionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return CloseResult{}, ErrPositionNotFound
	}
	pos := e.positions[idx]
	if pos.IsLiquidated {
		return CloseResult{}, ErrAlreadyLiquidated
	}

	closingFee := pos.Collateral.Mul(feeRateFor(e.totalValue))

	finalPnL := pos.PnL
	profitFee := decimal.Zero
	if finalPnL.IsPositive() {
		profitFee = finalPnL.Mul(profitFeeRate)
		finalPnL = finalPnL.Sub(profitFee)
	}

	returned := pos.Collateral.Add(finalPnL).Sub(closingFee)
	e.cash = e.cash.Add(returned)
	e.positions = append(e.positions[:idx], e.positions[idx+1:]...)
	e.recompute(l.initialCash)

	now := l.now()
	closed := *pos
	closed.PnL = finalPnL

	metrics.OpenPositions.Dec()
	slog.Info("position closed",
		"player", player, "position", positionID,
		"pnl", finalPnL.String(), "fee", closingFee.String(), "returned", returned.String())

	l.persistClose(pos.ID, now, pos.CurrentPrice, finalPnL, false, e.player(now))

	return CloseResult{
		Position:     closed,
		ClosingFee:   closingFee,
		ProfitFee:    profitFee,
		CashReturned: returned,
		Cash:         e.cash,
	}, nil
}

// recompute refreshes the portfolio aggregates from cash and live
// positions. Portfolio pnl is measured against the starting cash.
// Caller holds e.mu.
func (e *playerEntry) recompute(initialCash decimal.Decimal) {
	total := e.cash
	for _, pos := range e.positions {
		if pos.IsLiquidated {
			continue
		}
		total = total.Add(pos.Collateral).Add(pos.PnL)
	}
	e.totalValue = total
	e.pnl = total.Sub(initialCash)
	e.pnlPercent = e.pnl.Div(initialCash).Mul(hundred)
	if total.GreaterThan(e.highScore) {
		e.highScore = total
	}
}

// snapshot copies the entry into an external view. Caller holds e.mu.
func (e *playerEntry) snapshot() model.PlayerState {
	positions := make([]model.Position, len(e.positions))
	for i, pos := range e.positions {
		positions[i] = *pos
	}
	return model.PlayerState{
		Player:     e.key,
		Cash:       e.cash,
		Positions:  positions,
		TotalValue: e.totalValue,
		PnL:        e.pnl,
		PnLPercent: e.pnlPercent,
		HighScore:  e.highScore,
	}
}

// player builds the persisted row form. Caller holds e.mu.
func (e *playerEntry) player(now time.Time) model.Player {
	return model.Player{
		Key:       e.key,
		Cash:      e.cash,
		HighScore: e.highScore,
		UpdatedAt: now,
	}
}

// --- Persistence mirror (fire-and-forget) ---

func (l *Ledger) persistOpen(pos *model.Position, player model.Player) {
	if l.store == nil {
		return
	}
	rec := model.PositionRecord{
		ID:         pos.ID,
		Player:     pos.Player,
		Token:      pos.Token,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		Leverage:   pos.Leverage,
		Size:       pos.Size,
		Collateral: pos.Collateral,
		OpenedAt:   pos.OpenedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.store.InsertPosition(ctx, &rec); err != nil {
			slog.Warn("position persist failed", "position", rec.ID, "err", err)
		}
		if err := l.store.UpsertPlayer(ctx, &player); err != nil {
			slog.Warn("player persist failed", "player", player.Key, "err", err)
		}
	}()
}

func (l *Ledger) persistClose(id string, closedAt time.Time, closePrice, pnl decimal.Decimal, liquidated bool, player model.Player) {
	if l.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.store.ClosePosition(ctx, id, closedAt, closePrice, pnl, liquidated); err != nil {
			slog.Warn("position close persist failed", "position", id, "err", err)
		}
		if err := l.store.UpsertPlayer(ctx, &player); err != nil {
			slog.Warn("player persist failed", "player", player.Key, "err", err)
		}
	}()
}
