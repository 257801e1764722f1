package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/detector"
	"github.com/djstevess/arb-bot/internal/dex/core"
	"github.com/djstevess/arb-bot/internal/execution"
	"github.com/djstevess/arb-bot/internal/marketdata"
	"github.com/djstevess/arb-bot/internal/metrics"
	"github.com/djstevess/arb-bot/internal/risk"
	"github.com/djstevess/arb-bot/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	maxErrors   = 5
	sinkTimeout = 2 * time.Second
)

var ErrCycleRunning = errors.New("scan cycle already running")

type Quoter interface {
	Quote(ctx context.Context, pair types.TokenPair, venues []*core.Venue) map[core.VenueID]types.VenueQuote
}

type CostEstimator interface {
	Estimate(ctx context.Context) detector.Costs
}

// Sink receives everything operators can see: the ranked set, trade transitions,
// the ledger and the recent errors. dash.Store and redisfeed.Publisher implement it.
type Sink interface {
	PublishOpportunities(ctx context.Context, opps []types.Opportunity, at time.Time) error
	PublishTrade(ctx context.Context, t types.Trade) error
	PublishLedger(ctx context.Context, pnl types.PnL, at time.Time) error
	PublishErrors(ctx context.Context, errs []types.ErrorEntry) error
}

// BotContext is everything one bot instance runs on. Nil collaborators are filled
// from Config by New; a nil Executor makes the bot scan-only.
type BotContext struct {
	Config   *config.Config
	Pairs    []types.TokenPair
	Venues   []*core.Venue
	Quoter   Quoter
	Detector *detector.Detector
	Costs    CostEstimator
	Risk     *risk.Engine
	Executor *execution.Executor
	State    func(ctx context.Context) (interface{}, error)
	Sinks    []Sink
	Log      *zap.Logger
}

// Bot owns the scan loop and the current opportunity set.
type Bot struct {
	bc  BotContext
	cfg *config.Config
	log *zap.Logger

	active atomic.Bool
	scan   sync.Mutex

	mu     sync.RWMutex
	opps   []types.Opportunity
	oppsAt time.Time
	errs   []types.ErrorEntry

	now func() time.Time
}

// Report summarizes one scan cycle.
type Report struct {
	Opportunities int
	Best          *types.Opportunity
	Trade         *types.Trade
	Duration      time.Duration
}

func New(bc BotContext) *Bot {
	if bc.Log == nil {
		bc.Log = zap.NewNop()
	}
	cfg := bc.Config
	if bc.Quoter == nil {
		bc.Quoter = marketdata.NewAggregator(marketdata.HashSkew, bc.Log)
	}
	if bc.Detector == nil {
		bc.Detector = detector.New(cfg, bc.Log)
	}
	if bc.Costs == nil {
		bc.Costs = detector.CostModel{
			FallbackGwei: cfg.Chain.DefaultGasPriceGwei,
			FallbackUSD:  cfg.Chain.NativeFallbackUSD,
			Log:          bc.Log,
		}
	}
	if bc.Risk == nil {
		bc.Risk = risk.NewEngine(cfg)
	}

	b := &Bot{bc: bc, cfg: cfg, log: bc.Log, now: time.Now}
	b.active.Store(cfg.Bot.Active)
	if bc.Executor != nil {
		bc.Executor.OnTrade(b.onTrade)
	}
	return b
}

func (b *Bot) Active() bool { return b.active.Load() }

// SetActive starts or stops scheduling. A running cycle and any in-flight trade finish.
func (b *Bot) SetActive(on bool) {
	if b.active.Swap(on) != on {
		b.log.Info("bot active changed", zap.Bool("active", on))
	}
}

func (b *Bot) autoEnabled() bool {
	return b.cfg.Settings.AutoExecute || b.cfg.AutoMode()
}

// Run scans every ScanInterval while the bot is active, until ctx ends. It returns
// after the last cycle and every in-flight trade have finished.
func (b *Bot) Run(ctx context.Context) error {
	interval := b.cfg.ScanInterval()
	if interval <= 0 {
		return fmt.Errorf("scan interval must be positive, got %s", interval)
	}
	b.log.Info("scan loop started",
		zap.Duration("interval", interval),
		zap.Int("pairs", len(b.bc.Pairs)),
		zap.Int("venues", len(b.bc.Venues)),
		zap.Bool("active", b.Active()),
		zap.Bool("auto", b.autoEnabled()),
	)

	var wg sync.WaitGroup
	tick := func() {
		if !b.Active() {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := b.Cycle(ctx)
			if err != nil {
				return
			}
			b.log.Debug("scan cycle done",
				zap.Int("opportunities", rep.Opportunities),
				zap.Duration("took", rep.Duration),
			)
		}()
	}

	tick()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			if b.bc.Executor != nil {
				b.bc.Executor.Wait()
			}
			b.log.Info("scan loop stopped")
			return nil
		case <-t.C:
			tick()
		}
	}
}

// Cycle runs one aggregate, detect and rank pass and replaces the opportunity set.
// Overlapping calls return ErrCycleRunning without doing anything.
func (b *Bot) Cycle(ctx context.Context) (Report, error) {
	if !b.scan.TryLock() {
		metrics.ScanSkipped.Inc()
		b.log.Warn("previous scan cycle still running, tick skipped")
		return Report{}, ErrCycleRunning
	}
	defer b.scan.Unlock()

	start := time.Now()
	costs := b.bc.Costs.Estimate(ctx)
	if costs.GasPriceWei != nil {
		metrics.GasUSD.Set(detector.GasCostUSD(costs.GasPriceWei, b.cfg.Settings.GasLimit, costs.NativeUSD))
	}

	found := make([]types.Opportunity, 0, len(b.bc.Pairs))
	for _, pair := range b.bc.Pairs {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		quotes := b.bc.Quoter.Quote(ctx, pair, b.bc.Venues)
		if len(quotes) < 2 && len(b.bc.Venues) >= 2 {
			b.recordError("scan", fmt.Errorf("%s: %d of %d venues quoted", pair, len(quotes), len(b.bc.Venues)))
			continue
		}
		if opp, ok := b.bc.Detector.Detect(pair, quotes, costs); ok {
			found = append(found, opp)
		}
	}

	ranked := detector.Rank(found)
	at := b.now()
	b.mu.Lock()
	b.opps = ranked
	b.oppsAt = at
	b.mu.Unlock()

	rep := Report{Opportunities: len(ranked), Duration: time.Since(start)}
	metrics.ScanCycles.Inc()
	metrics.ScanDuration.Observe(rep.Duration.Seconds())
	metrics.Opportunities.Set(float64(len(ranked)))
	if len(ranked) > 0 {
		best := ranked[0]
		rep.Best = &best
		metrics.BestNetPct.Set(best.NetProfitPct)
		b.log.Info("opportunities",
			zap.Int("count", len(ranked)),
			zap.String("best_pair", best.Pair.String()),
			zap.String("buy", string(best.BuyVenue)),
			zap.String("sell", string(best.SellVenue)),
			zap.Float64("net_pct", best.NetProfitPct),
			zap.Float64("confidence", best.Confidence),
		)
	} else {
		metrics.BestNetPct.Set(0)
	}

	b.publish(ctx, "opportunities", func(ctx context.Context, s Sink) error {
		return s.PublishOpportunities(ctx, ranked, at)
	})

	if t, ok := b.autoExecute(ctx, ranked); ok {
		rep.Trade = &t
	}
	return rep, nil
}

// autoExecute hands at most the top-ranked opportunity to the executor.
func (b *Bot) autoExecute(ctx context.Context, ranked []types.Opportunity) (types.Trade, bool) {
	if len(ranked) == 0 || b.bc.Executor == nil || !b.Active() || !b.autoEnabled() {
		return types.Trade{}, false
	}
	top := ranked[0]
	if err := b.bc.Risk.AllowAuto(top); err != nil {
		b.log.Debug("top opportunity not eligible for auto execution",
			zap.String("id", top.ID), zap.Error(err))
		return types.Trade{}, false
	}

	t, err := b.bc.Executor.Submit(ctx, top, types.ModeAuto)
	if err != nil {
		if errors.Is(err, types.ErrTradeInProgress) {
			b.log.Debug("auto execution skipped, trade in progress", zap.String("id", top.ID))
			return types.Trade{}, false
		}
		// failed trades reach the ring through onTrade
		if t.ID == "" {
			b.recordError("execute", err)
		}
	}
	return t, t.ID != ""
}

// ExecuteOpportunity runs the manual path for an opportunity of the current set.
// It returns once the trade is Submitted.
func (b *Bot) ExecuteOpportunity(ctx context.Context, id string) (types.Trade, error) {
	opp, ok := b.lookup(id)
	if !ok {
		return types.Trade{}, fmt.Errorf("%w: %s", types.ErrUnknownOpportunity, id)
	}
	if b.bc.Executor == nil {
		return types.Trade{}, types.ErrNotConnected
	}
	t, err := b.bc.Executor.Submit(ctx, opp, types.ModeManual)
	if err != nil && t.ID == "" &&
		!errors.Is(err, types.ErrDeclined) && !errors.Is(err, types.ErrTradeInProgress) {
		b.recordError("execute", err)
	}
	return t, err
}

func (b *Bot) ContractState(ctx context.Context) (interface{}, error) {
	if b.bc.State == nil {
		return nil, types.ErrNotConnected
	}
	return b.bc.State(ctx)
}

func (b *Bot) lookup(id string) (types.Opportunity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, o := range b.opps {
		if o.ID == id {
			return o, true
		}
	}
	return types.Opportunity{}, false
}

// Opportunities returns a copy of the current ranked set and when it was produced.
func (b *Bot) Opportunities() ([]types.Opportunity, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.Opportunity(nil), b.opps...), b.oppsAt
}

// Ready fails while the bot is active but no scan cycle has finished within the
// last three intervals. An inactive bot is always ready.
func (b *Bot) Ready() error {
	if !b.Active() {
		return nil
	}
	b.mu.RLock()
	at := b.oppsAt
	b.mu.RUnlock()
	if at.IsZero() {
		return errors.New("no scan cycle completed yet")
	}
	if age := b.now().Sub(at); age > 3*b.cfg.ScanInterval() {
		return fmt.Errorf("last scan cycle finished %s ago", age.Round(time.Millisecond))
	}
	return nil
}

// Errors returns the recent errors, oldest first.
func (b *Bot) Errors() []types.ErrorEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.ErrorEntry(nil), b.errs...)
}

func (b *Bot) Trades() []types.Trade {
	if b.bc.Executor == nil {
		return nil
	}
	return b.bc.Executor.History().List()
}

func (b *Bot) PnL() types.PnL {
	if b.bc.Executor == nil {
		return types.PnL{}
	}
	l := b.bc.Executor.Ledger()
	return types.PnL{TotalUSD: l.Total(), Completed: l.Completed()}
}

func (b *Bot) recordError(source string, err error) {
	e := types.ErrorEntry{At: b.now(), Source: source, Message: err.Error()}
	b.log.Warn("bot error", zap.String("source", source), zap.Error(err))

	b.mu.Lock()
	b.errs = append(b.errs, e)
	if n := len(b.errs); n > maxErrors {
		b.errs = append([]types.ErrorEntry(nil), b.errs[n-maxErrors:]...)
	}
	snap := append([]types.ErrorEntry(nil), b.errs...)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	b.publish(ctx, "errors", func(ctx context.Context, s Sink) error {
		return s.PublishErrors(ctx, snap)
	})
}

func (b *Bot) onTrade(t types.Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	b.publish(ctx, "trade", func(ctx context.Context, s Sink) error {
		return s.PublishTrade(ctx, t)
	})
	if !t.Status.Terminal() {
		return
	}
	if t.Status == types.TradeFailed {
		b.recordError("trade", fmt.Errorf("%s %s: %s", t.Pair, t.ID, t.Error))
	}
	pnl, at := b.PnL(), b.now()
	b.publish(ctx, "ledger", func(ctx context.Context, s Sink) error {
		return s.PublishLedger(ctx, pnl, at)
	})
}

// publish fans out to every sink. Sink failures are logged only.
func (b *Bot) publish(ctx context.Context, what string, fn func(ctx context.Context, s Sink) error) {
	for _, s := range b.bc.Sinks {
		if err := fn(ctx, s); err != nil {
			b.log.Warn("sink publish failed", zap.String("what", what), zap.Error(err))
		}
	}
}

// NewLogger builds the JSON production logger. An empty level means debug.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(zap.DebugLevel)
	if level != "" {
		var err error
		if lvl, err = zap.ParseAtomicLevel(level); err != nil {
			return nil, err
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return cfg.Build()
}
