package market

import (
	"testing"

	"github.com/batr/trading-engine/internal/model"
)

func sample(price float64, ts int64) model.PriceSample {
	return model.PriceSample{Price: price, Timestamp: ts}
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory(5)
	if _, ok := h.Latest(); ok {
		t.Error("Latest on empty history returned ok")
	}
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
	if got := h.LastN(3); len(got) != 0 {
		t.Errorf("LastN on empty history = %v", got)
	}
}

func TestHistoryAppendAndLatest(t *testing.T) {
	h := NewHistory(5)
	h.Append(sample(100, 1))
	h.Append(sample(101, 2))

	latest, ok := h.Latest()
	if !ok || latest.Price != 101 || latest.Timestamp != 2 {
		t.Errorf("Latest = %+v, %v", latest, ok)
	}
	if h.Len() != 2 {
		t.Errorf("Len = %d, want 2", h.Len())
	}
}

func TestHistoryEviction(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Append(sample(float64(100+i), int64(i)))
	}

	if h.Len() != 3 {
		t.Fatalf("Len = %d, want 3", h.Len())
	}
	// Oldest two evicted: 103, 104, 105 remain, oldest first.
	got := h.LastN(3)
	want := []float64{103, 104, 105}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LastN = %v, want %v", got, want)
		}
	}

	latest, _ := h.Latest()
	if latest.Price != 105 {
		t.Errorf("Latest = %v, want 105", latest.Price)
	}
}

func TestHistoryLastNTruncates(t *testing.T) {
	h := NewHistory(10)
	for i := 1; i <= 4; i++ {
		h.Append(sample(float64(i), int64(i)))
	}

	// Asking for more than retained returns everything.
	if got := h.LastN(100); len(got) != 4 || got[0] != 1 {
		t.Errorf("LastN(100) = %v", got)
	}

	// Asking for fewer returns the newest, still oldest first.
	got := h.LastN(2)
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("LastN(2) = %v, want [3 4]", got)
	}
}

func TestHistoryDefaultCapacity(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistoryCapacity+50; i++ {
		h.Append(sample(float64(i), int64(i)))
	}
	if h.Len() != DefaultHistoryCapacity {
		t.Errorf("Len = %d, want %d", h.Len(), DefaultHistoryCapacity)
	}
}
