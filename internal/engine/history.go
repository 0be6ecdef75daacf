package engine

import (
	"sync"

	"github.com/delphi-lab/delphi-trading/internal/types"
)

// DefaultHistoryCapacity bounds the in-memory signal history.
const DefaultHistoryCapacity = 200

// SignalHistory is a bounded record of recently generated signals. It exists
// as explicit state so the consensus warning and the listing API read from an
// owned structure instead of ambient globals.
type SignalHistory struct {
	mu       sync.RWMutex
	capacity int
	signals  []types.Signal
}

func NewSignalHistory(capacity int) *SignalHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}

	return &SignalHistory{
		capacity: capacity,
		signals:  make([]types.Signal, 0, capacity),
	}
}

// Add appends signals, evicting the oldest entries beyond capacity.
func (h *SignalHistory) Add(signals ...types.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.signals = append(h.signals, signals...)
	if overflow := len(h.signals) - h.capacity; overflow > 0 {
		h.signals = h.signals[overflow:]
	}
}

// Recent returns up to n signals, newest last.
func (h *SignalHistory) Recent(n int) []types.Signal {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.signals) {
		n = len(h.signals)
	}

	out := make([]types.Signal, n)
	copy(out, h.signals[len(h.signals)-n:])

	return out
}

// Len returns the number of retained signals.
func (h *SignalHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.signals)
}
