package execution

import (
	"sync"

	"github.com/djstevess/arb-bot/internal/types"
)

// Ledger is the running realized-profit total. Only the executor adds to it.
type Ledger struct {
	mu        sync.RWMutex
	total     float64
	completed int
}

func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) add(profit float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total += profit
	l.completed++
	return l.total
}

func (l *Ledger) Total() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

func (l *Ledger) Completed() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.completed
}

// Reset is the explicit operator reset; nothing in the trade path calls it.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.total, l.completed = 0, 0
	l.mu.Unlock()
}

// History keeps the most recent terminal trades, oldest evicted first.
type History struct {
	mu   sync.RWMutex
	size int
	buf  []types.Trade // oldest first
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 10
	}
	return &History{size: capacity, buf: make([]types.Trade, 0, capacity)}
}

func (h *History) add(t types.Trade) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) == h.size {
		copy(h.buf, h.buf[1:])
		h.buf = h.buf[:h.size-1]
	}
	h.buf = append(h.buf, t)
}

// List returns the trades newest first.
func (h *History) List() []types.Trade {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.Trade, len(h.buf))
	for i, t := range h.buf {
		out[len(h.buf)-1-i] = t
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buf)
}
