package pricefeed

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Static serves fixed prices. Used for dry runs and as a deterministic source in tests.
type Static struct {
	mu     sync.RWMutex
	prices map[string]float64
	now    func() time.Time
}

func NewStatic(prices map[string]float64) *Static {
	m := make(map[string]float64, len(prices))
	for k, v := range prices {
		m[strings.ToUpper(k)] = v
	}
	return &Static{prices: m, now: time.Now}
}

func (s *Static) Set(symbol string, usd float64) {
	s.mu.Lock()
	s.prices[strings.ToUpper(symbol)] = usd
	s.mu.Unlock()
}

func (s *Static) Price(_ context.Context, symbol string) (Quote, error) {
	s.mu.RLock()
	px, ok := s.prices[strings.ToUpper(symbol)]
	s.mu.RUnlock()
	if !ok || px <= 0 {
		return Quote{}, unavailable(symbol, nil)
	}
	return Quote{Symbol: symbol, USD: px, Ts: s.now()}, nil
}

// Scripted replays a per-symbol price sequence, one value per call; the last value repeats.
type Scripted struct {
	mu  sync.Mutex
	seq map[string][]float64
	pos map[string]int
}

func NewScripted(seq map[string][]float64) *Scripted {
	m := make(map[string][]float64, len(seq))
	for k, v := range seq {
		m[strings.ToUpper(k)] = v
	}
	return &Scripted{seq: m, pos: make(map[string]int)}
}

func (s *Scripted) Price(_ context.Context, symbol string) (Quote, error) {
	key := strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.seq[key]
	if len(vals) == 0 {
		return Quote{}, unavailable(symbol, nil)
	}
	i := s.pos[key]
	if i >= len(vals) {
		i = len(vals) - 1
	} else {
		s.pos[key] = i + 1
	}
	if vals[i] <= 0 {
		return Quote{}, unavailable(symbol, nil)
	}
	return Quote{Symbol: symbol, USD: vals[i], Ts: time.Now()}, nil
}
