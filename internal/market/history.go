package market

import (
	"sync"

	"github.com/batr/trading-engine/internal/model"
)

// History is a fixed-size circular buffer of recent price samples.
// The newest sample overwrites the oldest once the buffer is full.
//
// Thread-safe for a single appender and concurrent readers.
type History struct {
	mu   sync.RWMutex
	buf  []model.PriceSample
	cap  int
	pos  int // next write position
	full bool
}

// DefaultHistoryCapacity retains five minutes of samples at 1 Hz.
const DefaultHistoryCapacity = 300

// NewHistory creates a history buffer with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		buf: make([]model.PriceSample, capacity),
		cap: capacity,
	}
}

// Append records a sample, evicting the oldest when full.
func (h *History) Append(s model.PriceSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.pos] = s
	h.pos = (h.pos + 1) % h.cap
	if h.pos == 0 && !h.full {
		h.full = true
	}
}

// Latest returns the most recent sample, or false when empty.
func (h *History) Latest() (model.PriceSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.pos == 0 && !h.full {
		return model.PriceSample{}, false
	}
	idx := (h.pos - 1 + h.cap) % h.cap
	return h.buf[idx], true
}

// LastN returns the prices of the most recent n samples, oldest first.
// When fewer than n samples are retained, all of them are returned.
func (h *History) LastN(n int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := h.len()
	if n > count {
		n = count
	}
	if n <= 0 {
		return []float64{}
	}

	out := make([]float64, n)
	start := count - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[h.index(start+i)].Price
	}
	return out
}

// Len returns the number of retained samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.len()
}

func (h *History) len() int {
	if h.full {
		return h.cap
	}
	return h.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (h *History) index(logical int) int {
	if h.full {
		return (h.pos + logical) % h.cap
	}
	return logical
}
