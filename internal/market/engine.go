// Package market implements the synthetic price process that drives the
// trading game: a 1 Hz geometric diffusion with a time-phased drift,
// soft boundary pressure, randomized trend regimes with forced reversals,
// and a ladder of mutually exclusive shock events.
//
// The engine is deliberately pure: every tick is a function of the current
// state, the injected random source, and the supplied clock time. It never
// errors; all arithmetic is total and the result is clamped to hard bounds.
package market

import (
	"math"
	"time"

	"github.com/batr/trading-engine/internal/model"
)

// Rand is the source of randomness for the price process.
// *math/rand.Rand satisfies it; tests inject scripted sequences.
type Rand interface {
	Float64() float64
}

// Move identifies which branch of the shock ladder produced a tick.
type Move string

const (
	MoveCrash  Move = "crash"
	MovePump   Move = "pump"
	MoveBig    Move = "big"
	MoveMedium Move = "medium"
	MoveSmall  Move = "small"
	MoveDrift  Move = "drift"
)

// Price boundaries. The soft band applies corrective pressure; the hard
// bounds are an absolute clamp applied after every tick.
const (
	SoftMinPrice = 50.0
	SoftMaxPrice = 600.0
	MinPrice     = 40.0
	MaxPrice     = 700.0

	// DefaultStartPrice is used when no persisted tick exists to seed from.
	DefaultStartPrice = 100.0
)

// Process tuning. Probabilities are per-tick; moves are evaluated in
// ladder order, each against an independent draw.
const (
	volatility      = 0.004
	initialTrend    = -0.0002
	smallMoveProb   = 0.03
	mediumMoveProb  = 0.008
	bigMoveProb     = 0.0005
	crashProb       = 0.0008
	pumpProb        = 0.0008
	boundaryGain    = 0.002
	maxBoundaryTerm = 0.001
	reversalOffset  = 0.0001
)

// Engine holds the evolving state of the price process. It is not
// safe for concurrent use; a single tick loop owns it and publishes
// samples through the history buffer and broadcast hub.
type Engine struct {
	rng       Rand
	startTime time.Time

	price              float64
	trend              float64
	trendChangeCounter int
	consecutiveBullish int
	consecutiveBearish int
}

// NewEngine creates a price engine starting at startPrice with the
// initial bearish trend. now anchors the drift phases.
func NewEngine(rng Rand, startPrice float64, now time.Time) *Engine {
	if startPrice <= 0 {
		startPrice = DefaultStartPrice
	}
	return &Engine{
		rng:       rng,
		startTime: now,
		price:     startPrice,
		trend:     initialTrend,
	}
}

// Price returns the current mark price.
func (e *Engine) Price() float64 {
	return e.price
}

// Trend returns the active regime drift.
func (e *Engine) Trend() float64 {
	return e.trend
}

// Step advances the process by one tick and returns the new sample along
// with the move kind that produced it.
func (e *Engine) Step(now time.Time) (model.PriceSample, Move) {
	elapsedMinutes := now.Sub(e.startTime).Minutes()

	baseTrend := e.boundaryPressure() + phaseDrift(elapsedMinutes)
	e.maybeSwitchRegime(baseTrend)

	move := e.applyMove(elapsedMinutes)

	e.price = math.Max(MinPrice, math.Min(MaxPrice, e.price))

	return model.PriceSample{Price: e.price, Timestamp: now.UnixMilli()}, move
}

// boundaryPressure returns a corrective drift term when the price sits
// outside the soft band, proportional to the distance and capped. It is
// additive to the phase drift, not a clamp.
func (e *Engine) boundaryPressure() float64 {
	switch {
	case e.price < SoftMinPrice:
		return math.Min((SoftMinPrice-e.price)*boundaryGain, maxBoundaryTerm)
	case e.price > SoftMaxPrice:
		return -math.Min((e.price-SoftMaxPrice)*boundaryGain, maxBoundaryTerm)
	default:
		return 0
	}
}

// phaseDrift is the elapsed-time component of the base drift: bearish for
// the first five minutes, flat until minute ten, then a bullish ramp that
// maxes out at minute forty.
func phaseDrift(elapsedMinutes float64) float64 {
	switch {
	case elapsedMinutes < 5:
		return -0.0002
	case elapsedMinutes < 10:
		return 0
	default:
		strength := math.Min((elapsedMinutes-10)/30, 1)
		return 0.0001 + strength*0.0002
	}
}

// maybeSwitchRegime re-picks the trend once the tick counter exceeds a
// randomized threshold in [60,180). Two or more consecutive same-signed
// picks force a reversal with probability 0.7, bounding unbroken runs.
func (e *Engine) maybeSwitchRegime(baseTrend float64) {
	e.trendChangeCounter++
	if float64(e.trendChangeCounter) <= 60+e.rng.Float64()*120 {
		return
	}

	newTrend := baseTrend + (e.rng.Float64()-0.5)*0.0002

	if newTrend > 0 {
		e.consecutiveBullish++
		e.consecutiveBearish = 0
	} else if newTrend < 0 {
		e.consecutiveBearish++
		e.consecutiveBullish = 0
	}

	if e.consecutiveBullish >= 2 && e.rng.Float64() > 0.3 {
		newTrend = -math.Abs(newTrend) - reversalOffset
		e.consecutiveBullish = 0
		e.consecutiveBearish = 1
	} else if e.consecutiveBearish >= 2 && e.rng.Float64() > 0.3 {
		newTrend = math.Abs(newTrend) + reversalOffset
		e.consecutiveBearish = 0
		e.consecutiveBullish = 1
	}

	e.trend = newTrend
	e.trendChangeCounter = 0
}

// applyMove runs the shock ladder. Crash odds are reduced during the early
// bearish phase, pump odds boosted after minute ten, and big moves only
// become eligible after minute twenty. Exactly one branch fires per tick.
func (e *Engine) applyMove(elapsedMinutes float64) Move {
	crashChance := crashProb
	if elapsedMinutes < 5 {
		crashChance *= 0.3
	}
	pumpChance := pumpProb
	if elapsedMinutes > 10 {
		pumpChance *= 1.5
	}

	switch {
	case e.rng.Float64() < crashChance:
		drop := 0.02 + e.rng.Float64()*0.03 // 2-5%
		e.price *= 1 - drop
		return MoveCrash

	case e.rng.Float64() < pumpChance:
		rise := 0.02 + e.rng.Float64()*0.03 // 2-5%
		e.price *= 1 + rise
		return MovePump

	case elapsedMinutes > 20 && e.rng.Float64() < bigMoveProb:
		e.price += (30 + e.rng.Float64()*50) * e.direction()
		return MoveBig

	case e.rng.Float64() < mediumMoveProb:
		e.price += (5 + e.rng.Float64()*10) * e.direction()
		return MoveMedium

	case e.rng.Float64() < smallMoveProb:
		e.price += (1 + e.rng.Float64()*3) * e.direction()
		return MoveSmall

	default:
		change := e.trend + (e.rng.Float64()-0.5)*2*volatility
		e.price *= 1 + change
		return MoveDrift
	}
}

func (e *Engine) direction() float64 {
	if e.rng.Float64() > 0.5 {
		return 1
	}
	return -1
}
