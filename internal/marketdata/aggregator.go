package marketdata

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djstevess/arb-bot/internal/dex/core"
	imetrics "github.com/djstevess/arb-bot/internal/metrics"
	"github.com/djstevess/arb-bot/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Skew returns a bounded perturbation in [-1, 1] for one venue quote.
// seq advances once per Quote call so successive cycles see different skews.
type Skew func(venue core.VenueID, pair string, seq uint64) float64

// HashSkew is deterministic: the same (venue, pair, seq) always gives the same value.
func HashSkew(venue core.VenueID, pair string, seq uint64) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(venue))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(pair))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatUint(seq, 10)))
	return float64(h.Sum64()%20001)/10000 - 1
}

// NoSkew quotes every venue at the reference price.
func NoSkew(core.VenueID, string, uint64) float64 { return 0 }

type Aggregator struct {
	log  *zap.Logger
	skew Skew
	seq  atomic.Uint64
	now  func() time.Time
}

func NewAggregator(skew Skew, log *zap.Logger) *Aggregator {
	if skew == nil {
		skew = HashSkew
	}
	return &Aggregator{log: log, skew: skew, now: time.Now}
}

// Quote fetches one quote per venue concurrently and returns once every fetch has
// finished. Venues whose price source fails are absent from the result.
func (a *Aggregator) Quote(ctx context.Context, pair types.TokenPair, venues []*core.Venue) map[core.VenueID]types.VenueQuote {
	seq := a.seq.Add(1)
	out := make(map[core.VenueID]types.VenueQuote, len(venues))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, ven := range venues {
		ven := ven
		g.Go(func() error {
			q, ok := a.quoteVenue(gctx, pair, ven, seq)
			if ok {
				mu.Lock()
				out[ven.ID] = q
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(out) < len(venues) {
		a.log.Debug("marketdata: partial quotes",
			zap.String("pair", pair.String()),
			zap.Int("venues", len(venues)),
			zap.Int("quoted", len(out)),
		)
	}
	return out
}

func (a *Aggregator) quoteVenue(ctx context.Context, pair types.TokenPair, ven *core.Venue, seq uint64) (types.VenueQuote, bool) {
	if ven.Source == nil {
		return types.VenueQuote{}, false
	}
	start := time.Now()
	defer func() { imetrics.QuoteLatency.Observe(time.Since(start).Seconds()) }()

	base, err := ven.Source.Price(ctx, pair.Base.Symbol)
	if err != nil {
		a.fail(ven.ID, pair, err)
		return types.VenueQuote{}, false
	}
	quote, err := ven.Source.Price(ctx, pair.Quote.Symbol)
	if err != nil {
		a.fail(ven.ID, pair, err)
		return types.VenueQuote{}, false
	}
	if base.USD <= 0 || quote.USD <= 0 {
		a.fail(ven.ID, pair, types.ErrUnavailable)
		return types.VenueQuote{}, false
	}

	s := a.skew(ven.ID, pair.String(), seq)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	px := base.USD / quote.USD * (1 + s*ven.VariationPct/100)

	return types.VenueQuote{
		Venue:        ven.ID,
		Price:        px,
		BaseUSD:      base.USD,
		LiquidityUSD: ven.LiquidityUSD,
		Ts:           a.now(),
	}, true
}

func (a *Aggregator) fail(id core.VenueID, pair types.TokenPair, err error) {
	imetrics.QuoteErrors.WithLabelValues(string(id)).Inc()
	a.log.Warn("marketdata: venue quote unavailable",
		zap.String("venue", string(id)),
		zap.String("pair", pair.String()),
		zap.Error(err),
	)
}
