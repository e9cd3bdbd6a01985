package market

import (
	"math/rand"
	"testing"
	"time"
)

// scriptedRand returns queued draws, then 0.5 forever. 0.5 is the
// neutral draw: no shocks fire and drift reduces to the bare trend.
type scriptedRand struct {
	draws []float64
	i     int
}

func (s *scriptedRand) Float64() float64 {
	if s.i < len(s.draws) {
		v := s.draws[s.i]
		s.i++
		return v
	}
	return 0.5
}

var epoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(&scriptedRand{}, 0, epoch)
	if e.Price() != DefaultStartPrice {
		t.Errorf("price = %v, want %v", e.Price(), DefaultStartPrice)
	}
	if e.Trend() != initialTrend {
		t.Errorf("trend = %v, want %v", e.Trend(), initialTrend)
	}

	e = NewEngine(&scriptedRand{}, 250, epoch)
	if e.Price() != 250 {
		t.Errorf("price = %v, want 250", e.Price())
	}
}

func TestPhaseDrift(t *testing.T) {
	tests := []struct {
		minutes float64
		want    float64
	}{
		{0, -0.0002},
		{4.9, -0.0002},
		{5, 0},
		{9.9, 0},
		{10, 0.0001},
		{25, 0.0002},
		{40, 0.0003},
		{120, 0.0003}, // ramp saturates at minute forty
	}
	for _, tt := range tests {
		if got := phaseDrift(tt.minutes); got != tt.want {
			t.Errorf("phaseDrift(%v) = %v, want %v", tt.minutes, got, tt.want)
		}
	}
}

func TestBoundaryPressure(t *testing.T) {
	tests := []struct {
		price float64
		want  float64
	}{
		{100, 0},
		{SoftMinPrice, 0},
		{SoftMaxPrice, 0},
		{49.9, 0.0002}, // (50-49.9)*0.002
		{45, 0.001},    // capped
		{600.05, -0.0001},
		{650, -0.001}, // capped
	}
	for _, tt := range tests {
		e := NewEngine(&scriptedRand{}, tt.price, epoch)
		got := e.boundaryPressure()
		if diff := got - tt.want; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("boundaryPressure at %v = %v, want %v", tt.price, got, tt.want)
		}
	}
}

func TestRegimeSwitchWaitsForThreshold(t *testing.T) {
	// Threshold draw 0.5 gives 120 ticks; the counter must exceed it.
	e := NewEngine(&scriptedRand{}, 100, epoch)
	for i := 0; i < 120; i++ {
		e.maybeSwitchRegime(0)
	}
	if e.Trend() != initialTrend {
		t.Fatalf("trend changed before threshold: %v", e.Trend())
	}
	e.maybeSwitchRegime(0)
	if e.Trend() == initialTrend {
		t.Fatal("trend did not change after threshold")
	}
	if e.trendChangeCounter != 0 {
		t.Errorf("counter = %d, want 0 after switch", e.trendChangeCounter)
	}
}

func TestForcedReversalBullish(t *testing.T) {
	rng := &scriptedRand{draws: []float64{
		0.0, // threshold 60, counter already past it
		0.9, // newTrend = base + 0.00008, bullish
		0.9, // reversal check fires (> 0.3)
	}}
	e := NewEngine(rng, 100, epoch)
	e.trendChangeCounter = 500
	e.consecutiveBullish = 2

	e.maybeSwitchRegime(0)

	want := -0.00008 - reversalOffset
	if diff := e.Trend() - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("trend = %v, want %v after forced reversal", e.Trend(), want)
	}
	if e.consecutiveBullish != 0 || e.consecutiveBearish != 1 {
		t.Errorf("streaks = %d bullish / %d bearish, want 0/1",
			e.consecutiveBullish, e.consecutiveBearish)
	}
}

func TestForcedReversalBearish(t *testing.T) {
	rng := &scriptedRand{draws: []float64{
		0.0, // threshold
		0.1, // newTrend = base - 0.00008, bearish
		0.9, // reversal check fires
	}}
	e := NewEngine(rng, 100, epoch)
	e.trendChangeCounter = 500
	e.consecutiveBearish = 2

	e.maybeSwitchRegime(0)

	want := 0.00008 + reversalOffset
	if diff := e.Trend() - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("trend = %v, want %v after forced reversal", e.Trend(), want)
	}
	if e.consecutiveBearish != 0 || e.consecutiveBullish != 1 {
		t.Errorf("streaks = %d bullish / %d bearish, want 1/0",
			e.consecutiveBullish, e.consecutiveBearish)
	}
}

func TestReversalSkippedOnLowDraw(t *testing.T) {
	rng := &scriptedRand{draws: []float64{
		0.0, // threshold
		0.9, // bullish pick
		0.2, // reversal check does not fire (<= 0.3)
	}}
	e := NewEngine(rng, 100, epoch)
	e.trendChangeCounter = 500
	e.consecutiveBullish = 2

	e.maybeSwitchRegime(0)

	if e.Trend() <= 0 {
		t.Errorf("trend = %v, want bullish pick kept", e.Trend())
	}
	if e.consecutiveBullish != 3 {
		t.Errorf("consecutiveBullish = %d, want 3", e.consecutiveBullish)
	}
}

func TestShockLadder(t *testing.T) {
	tests := []struct {
		name    string
		minutes float64
		draws   []float64
		want    Move
		check   func(t *testing.T, before, after float64)
	}{
		{
			name:    "crash",
			minutes: 6,
			draws:   []float64{0.0, 0.5}, // fire, drop 3.5%
			want:    MoveCrash,
			check: func(t *testing.T, before, after float64) {
				if want := before * 0.965; !approxEqual(after, want) {
					t.Errorf("price = %v, want %v", after, want)
				}
			},
		},
		{
			name:    "pump",
			minutes: 6,
			draws:   []float64{0.9, 0.0, 0.5}, // crash miss, pump fire, rise 3.5%
			want:    MovePump,
			check: func(t *testing.T, before, after float64) {
				if want := before * 1.035; !approxEqual(after, want) {
					t.Errorf("price = %v, want %v", after, want)
				}
			},
		},
		{
			name:    "big move only after twenty minutes",
			minutes: 25,
			draws:   []float64{0.9, 0.9, 0.0, 0.5, 0.9}, // big fire, magnitude 55, up
			want:    MoveBig,
			check: func(t *testing.T, before, after float64) {
				if want := before + 55; !approxEqual(after, want) {
					t.Errorf("price = %v, want %v", after, want)
				}
			},
		},
		{
			name:    "medium",
			minutes: 6,
			draws:   []float64{0.9, 0.9, 0.0, 0.5, 0.2}, // medium fire, magnitude 10, down
			want:    MoveMedium,
			check: func(t *testing.T, before, after float64) {
				if want := before - 10; !approxEqual(after, want) {
					t.Errorf("price = %v, want %v", after, want)
				}
			},
		},
		{
			name:    "small",
			minutes: 6,
			draws:   []float64{0.9, 0.9, 0.9, 0.0, 0.5, 0.9}, // small fire, magnitude 2.5, up
			want:    MoveSmall,
			check: func(t *testing.T, before, after float64) {
				if want := before + 2.5; !approxEqual(after, want) {
					t.Errorf("price = %v, want %v", after, want)
				}
			},
		},
		{
			name:    "drift",
			minutes: 6,
			draws:   []float64{0.9, 0.9, 0.9, 0.9, 0.5}, // all miss, neutral noise
			want:    MoveDrift,
			check: func(t *testing.T, before, after float64) {
				if want := before * (1 + initialTrend); !approxEqual(after, want) {
					t.Errorf("price = %v, want %v", after, want)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(&scriptedRand{draws: tt.draws}, 100, epoch)
			before := e.Price()
			move := e.applyMove(tt.minutes)
			if move != tt.want {
				t.Fatalf("move = %s, want %s", move, tt.want)
			}
			tt.check(t, before, e.Price())
		})
	}
}

func TestStepClampsToHardBounds(t *testing.T) {
	// Step consumes one threshold draw, then the ladder.
	rng := &scriptedRand{draws: []float64{
		0.5,      // regime threshold, no switch
		0.9, 0.0, // crash miss, pump fire
		0.5, // rise 3.5%
	}}
	e := NewEngine(rng, 699, epoch)

	now := epoch.Add(6 * time.Minute)
	sample, move := e.Step(now)
	if move != MovePump {
		t.Fatalf("move = %s, want pump", move)
	}
	if sample.Price != MaxPrice {
		t.Errorf("price = %v, want clamped to %v", sample.Price, MaxPrice)
	}
	if sample.Timestamp != now.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", sample.Timestamp, now.UnixMilli())
	}
}

func TestEarlyCrashDampening(t *testing.T) {
	// Inside the first five minutes the crash chance is 0.00024, so a
	// draw of 0.0005 misses early and hits later.
	early := NewEngine(&scriptedRand{draws: []float64{0.0005}}, 100, epoch)
	if move := early.applyMove(2); move == MoveCrash {
		t.Error("crash fired during dampened phase")
	}

	late := NewEngine(&scriptedRand{draws: []float64{0.0005, 0.5}}, 100, epoch)
	if move := late.applyMove(6); move != MoveCrash {
		t.Errorf("move = %s, want crash after dampening ends", move)
	}
}

func TestLongRunStaysWithinHardBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := NewEngine(rng, DefaultStartPrice, epoch)

	now := epoch
	for i := 0; i < 50000; i++ {
		now = now.Add(time.Second)
		sample, _ := e.Step(now)
		if sample.Price < MinPrice || sample.Price > MaxPrice {
			t.Fatalf("tick %d: price %v escaped [%v, %v]", i, sample.Price, MinPrice, MaxPrice)
		}
	}
}

func approxEqual(a, b float64) bool {
	diff := a - b
	return diff < 1e-9 && diff > -1e-9
}
