package execution

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/djstevess/arb-bot/internal/types"
)

// Guard admits at most one trade at a time. Acquire returns types.ErrTradeInProgress
// when the slot is taken; release is idempotent.
type Guard interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type LocalGuard struct{ busy atomic.Bool }

func NewLocalGuard() *LocalGuard { return &LocalGuard{} }

func (g *LocalGuard) Acquire(context.Context) (func(), error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, types.ErrTradeInProgress
	}
	var once sync.Once
	return func() { once.Do(func() { g.busy.Store(false) }) }, nil
}

func (g *LocalGuard) Busy() bool { return g.busy.Load() }

// MultiGuard acquires every guard in order and releases in reverse.
// Typical use: a LocalGuard first, then a shared Redis lock.
type MultiGuard []Guard

func (m MultiGuard) Acquire(ctx context.Context) (func(), error) {
	releases := make([]func(), 0, len(m))
	undo := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, g := range m {
		rel, err := g.Acquire(ctx)
		if err != nil {
			undo()
			return nil, err
		}
		releases = append(releases, rel)
	}
	var once sync.Once
	return func() { once.Do(undo) }, nil
}
