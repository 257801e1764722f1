package bot

import (
	"context"
	"sort"
	"time"

	"github.com/djstevess/arb-bot/internal/pricefeed"
	"github.com/djstevess/arb-bot/internal/types"
	"go.uber.org/zap"
)

const warmupPoll = 250 * time.Millisecond

// PairSymbols lists the distinct token symbols of pairs.
func PairSymbols(pairs []types.TokenPair) []string {
	seen := make(map[string]struct{}, 2*len(pairs))
	out := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		for _, s := range []string{p.Base.Symbol, p.Quote.Symbol} {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// WaitPrices polls src until every symbol has a price or timeout passes, and returns
// the symbols still missing, sorted. The first scan then starts with a warm cache.
func WaitPrices(ctx context.Context, src pricefeed.Source, symbols []string, timeout time.Duration, log *zap.Logger) []string {
	deadline := time.Now().Add(timeout)
	missing := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		missing[s] = struct{}{}
	}
	tick := time.NewTicker(warmupPoll)
	defer tick.Stop()
	for {
		for s := range missing {
			if _, err := src.Price(ctx, s); err == nil {
				delete(missing, s)
			}
		}
		if len(missing) == 0 {
			log.Info("price feed ready", zap.Int("symbols", len(symbols)))
			return nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			out := make([]string, 0, len(missing))
			for s := range missing {
				out = append(out, s)
			}
			sort.Strings(out)
			return out
		}
		select {
		case <-ctx.Done():
		case <-tick.C:
		}
	}
}
