package bot

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/djstevess/arb-bot/internal/chain"
	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/confirm"
	"github.com/djstevess/arb-bot/internal/detector"
	"github.com/djstevess/arb-bot/internal/dex/core"
	"github.com/djstevess/arb-bot/internal/execution"
	"github.com/djstevess/arb-bot/internal/metrics"
	"github.com/djstevess/arb-bot/internal/pricefeed"
	"github.com/djstevess/arb-bot/internal/risk"
	"github.com/djstevess/arb-bot/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	usdc    = types.Token{Symbol: "USDC", Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Decimals: 6}
	ethUSDC = types.TokenPair{
		Base:  types.Token{Symbol: "ETH", Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18},
		Quote: usdc,
	}
	btcUSDC = types.TokenPair{
		Base:  types.Token{Symbol: "CBBTC", Address: common.HexToAddress("0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf"), Decimals: 8},
		Quote: usdc,
	}

	uni   = core.VenueUniswapV3
	sushi = core.VenueSushiSwap

	routers = map[string]common.Address{
		string(uni):   common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"),
		string(sushi): common.HexToAddress("0x6BDED42c6DA8FBf0d2bA55B2fa120C5e0c8D7891"),
	}

	// 0.1 gwei * 500k gas * $1000 = $0.05
	cheapGas = fixedCosts{GasPriceWei: big.NewInt(100_000_000), NativeUSD: 1000}
)

type fixedCosts detector.Costs

func (c fixedCosts) Estimate(context.Context) detector.Costs { return detector.Costs(c) }

// fakeQuoter serves fixed venue prices per pair. With block set, Quote waits on it.
type fakeQuoter struct {
	mu      sync.Mutex
	prices  map[string]map[core.VenueID]float64
	block   chan struct{}
	entered chan struct{}
	calls   int
}

func (f *fakeQuoter) set(pair types.TokenPair, px map[core.VenueID]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prices == nil {
		f.prices = make(map[string]map[core.VenueID]float64)
	}
	f.prices[pair.String()] = px
}

func (f *fakeQuoter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeQuoter) Quote(ctx context.Context, pair types.TokenPair, _ []*core.Venue) map[core.VenueID]types.VenueQuote {
	f.mu.Lock()
	f.calls++
	px, block, entered := f.prices[pair.String()], f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	out := make(map[core.VenueID]types.VenueQuote, len(px))
	for id, p := range px {
		out[id] = types.VenueQuote{Venue: id, Price: p, BaseUSD: p, LiquidityUSD: 200000, Ts: time.Now()}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	opps   [][]types.Opportunity
	trades []types.Trade
	pnl    []types.PnL
	errs   [][]types.ErrorEntry
	fail   error
}

func (r *recordingSink) PublishOpportunities(_ context.Context, opps []types.Opportunity, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opps = append(r.opps, opps)
	return r.fail
}

func (r *recordingSink) PublishTrade(_ context.Context, t types.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
	return r.fail
}

func (r *recordingSink) PublishLedger(_ context.Context, pnl types.PnL, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pnl = append(r.pnl, pnl)
	return r.fail
}

func (r *recordingSink) PublishErrors(_ context.Context, errs []types.ErrorEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, errs)
	return r.fail
}

func (r *recordingSink) statuses() []types.TradeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.TradeStatus, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, t.Status)
	}
	return out
}

// heldSigner settles paper trades only after release is closed.
type heldSigner struct {
	*chain.Paper
	release chan struct{}
}

func (h heldSigner) AwaitFinality(ctx context.Context, ref string) (execution.Receipt, error) {
	select {
	case <-h.release:
	case <-ctx.Done():
		return execution.Receipt{}, ctx.Err()
	}
	return h.Paper.AwaitFinality(ctx, ref)
}

type revertingSigner struct{ *chain.Paper }

func (revertingSigner) AwaitFinality(context.Context, string) (execution.Receipt, error) {
	return execution.Receipt{RevertReason: "execution reverted: Insufficient profit", BlockNumber: 7}, nil
}

type fixture struct {
	bot  *Bot
	cfg  *config.Config
	q    *fakeQuoter
	sink *recordingSink
	exec *execution.Executor
}

func newFixture(t *testing.T, mutate func(cfg *config.Config), signer execution.Signer, conf execution.Confirmer) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Bot.Active = true
	cfg.Bot.ScanIntervalMs = 10
	if mutate != nil {
		mutate(cfg)
	}
	if signer == nil {
		signer = chain.NewPaper(0, zap.NewNop())
	}
	if conf == nil {
		conf = confirm.AlwaysYes
	}
	q := &fakeQuoter{}
	q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2000})
	q.set(btcUSDC, map[core.VenueID]float64{uni: 60000, sushi: 60000})
	sink := &recordingSink{}
	exec := execution.NewExecutor(cfg, signer, conf, risk.NewEngine(cfg), routers, zap.NewNop())
	b := New(BotContext{
		Config:   cfg,
		Pairs:    []types.TokenPair{ethUSDC, btcUSDC},
		Venues:   []*core.Venue{{ID: uni}, {ID: sushi}},
		Quoter:   q,
		Costs:    cheapGas,
		Executor: exec,
		Sinks:    []Sink{sink},
		Log:      zap.NewNop(),
	})
	return &fixture{bot: b, cfg: cfg, q: q, sink: sink, exec: exec}
}

func TestNew_FillsDefaults(t *testing.T) {
	cfg := config.Defaults()
	cfg.Bot.Active = true
	b := New(BotContext{Config: cfg})

	assert.NotNil(t, b.bc.Quoter)
	assert.NotNil(t, b.bc.Detector)
	assert.NotNil(t, b.bc.Costs)
	assert.NotNil(t, b.bc.Risk)
	assert.True(t, b.Active())
	assert.Empty(t, b.Trades())
	assert.Equal(t, types.PnL{}, b.PnL())
}

func TestCycle_ReplacesOpportunitySet(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx := context.Background()

	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2080})
	f.q.set(btcUSDC, map[core.VenueID]float64{uni: 60000, sushi: 61200})
	rep, err := f.bot.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Opportunities)
	assert.Nil(t, rep.Trade, "auto execution is off")

	opps, at := f.bot.Opportunities()
	require.Len(t, opps, 2)
	assert.False(t, at.IsZero())
	assert.Equal(t, "ETH/USDC", opps[0].Pair.String())
	assert.Equal(t, "CBBTC/USDC", opps[1].Pair.String())
	assert.GreaterOrEqual(t, opps[0].NetProfitPct, opps[1].NetProfitPct)
	require.NotNil(t, rep.Best)
	assert.Equal(t, opps[0].ID, rep.Best.ID)
	for _, o := range opps {
		assert.Equal(t, uni, o.BuyVenue)
		assert.Equal(t, sushi, o.SellVenue)
		assert.LessOrEqual(t, o.BuyPrice, o.SellPrice)
	}
	ethID := opps[0].ID

	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2000})
	_, err = f.bot.Cycle(ctx)
	require.NoError(t, err)
	opps, _ = f.bot.Opportunities()
	require.Len(t, opps, 1)
	assert.Equal(t, "CBBTC/USDC", opps[0].Pair.String())
	assert.NotEqual(t, ethID, opps[0].ID)

	f.q.set(btcUSDC, map[core.VenueID]float64{uni: 60000, sushi: 60000})
	rep, err = f.bot.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Opportunities)
	assert.Nil(t, rep.Best)
	opps, _ = f.bot.Opportunities()
	assert.Empty(t, opps)

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.opps, 3)
	assert.Len(t, f.sink.opps[0], 2)
	assert.Len(t, f.sink.opps[1], 1)
	assert.Empty(t, f.sink.opps[2])
}

func TestCycle_AutoExecutesTopOncePerTick(t *testing.T) {
	release := make(chan struct{})
	signer := heldSigner{Paper: chain.NewPaper(0, zap.NewNop()), release: release}
	f := newFixture(t, func(cfg *config.Config) { cfg.Settings.AutoExecute = true }, signer, confirm.AlwaysNo)
	ctx := context.Background()

	// both clear the auto floor; CBBTC ranks first
	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2080})
	f.q.set(btcUSDC, map[core.VenueID]float64{uni: 60000, sushi: 63000})

	rep, err := f.bot.Cycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, rep.Trade)
	assert.Equal(t, "CBBTC/USDC", rep.Trade.Pair)
	assert.Equal(t, types.ModeAuto, rep.Trade.Mode)
	assert.Equal(t, types.TradeSubmitted, rep.Trade.Status)

	rep, err = f.bot.Cycle(ctx)
	require.NoError(t, err)
	assert.Nil(t, rep.Trade, "previous trade still in flight")
	assert.Equal(t, 2, rep.Opportunities)
	assert.Empty(t, f.bot.Errors(), "in-progress skip is not an error")

	close(release)
	f.exec.Wait()

	pnl := f.bot.PnL()
	assert.Equal(t, 1, pnl.Completed)
	assert.Greater(t, pnl.TotalUSD, 0.0)
	assert.Equal(t, []types.TradeStatus{types.TradeSubmitted, types.TradeConfirming, types.TradeCompleted}, f.sink.statuses())

	f.sink.mu.Lock()
	assert.Equal(t, []types.PnL{pnl}, f.sink.pnl)
	f.sink.mu.Unlock()

	require.Len(t, f.bot.Trades(), 1)
	assert.Equal(t, types.TradeCompleted, f.bot.Trades()[0].Status)
}

func TestCycle_AutoGates(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *config.Config)
		ethHi  float64
	}{
		{"inactive", func(cfg *config.Config) { cfg.Settings.AutoExecute = true; cfg.Bot.Active = false }, 2080},
		{"auto off", nil, 2080},
		{"below confidence floor", func(cfg *config.Config) { cfg.Settings.AutoExecute = true }, 2030},
		{"below raised threshold", func(cfg *config.Config) {
			cfg.Settings.AutoExecute = true
			cfg.Settings.MinProfitThresholdPct = 5
		}, 2080},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.mutate, nil, nil)
			f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: tc.ethHi})
			rep, err := f.bot.Cycle(context.Background())
			require.NoError(t, err)
			assert.Nil(t, rep.Trade)
			assert.Empty(t, f.sink.statuses())
		})
	}
}

func TestCycle_ModeAutoEnablesHandOff(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Mode = config.ModeAuto }, nil, nil)
	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2080})

	rep, err := f.bot.Cycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep.Trade)
	f.exec.Wait()
	assert.Equal(t, 1, f.bot.PnL().Completed)
}

func TestCycle_OverlappingTickIsSkipped(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	f.q.block = make(chan struct{})
	f.q.entered = make(chan struct{}, 1)
	skipped := testutil.ToFloat64(metrics.ScanSkipped)

	done := make(chan error, 1)
	go func() {
		_, err := f.bot.Cycle(context.Background())
		done <- err
	}()
	<-f.q.entered

	_, err := f.bot.Cycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.Equal(t, skipped+1, testutil.ToFloat64(metrics.ScanSkipped))

	close(f.q.block)
	require.NoError(t, <-done)
}

func TestCycle_FeedFailureIsRecordedAndBounded(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000})
	f.q.set(btcUSDC, map[core.VenueID]float64{uni: 60000, sushi: 61200})

	for i := 0; i < maxErrors+2; i++ {
		rep, err := f.bot.Cycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Opportunities, "other pairs still scanned")
	}

	errs := f.bot.Errors()
	require.Len(t, errs, maxErrors)
	for _, e := range errs {
		assert.Equal(t, "scan", e.Source)
		assert.Contains(t, e.Message, "ETH/USDC: 1 of 2 venues quoted")
	}

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.NotEmpty(t, f.sink.errs)
	assert.Len(t, f.sink.errs[len(f.sink.errs)-1], maxErrors)
}

func TestCycle_SinkFailureDoesNotStopScan(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	f.sink.fail = errors.New("redis down")
	good := &recordingSink{}
	f.bot.bc.Sinks = append(f.bot.bc.Sinks, good)
	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2080})

	rep, err := f.bot.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Opportunities)
	good.mu.Lock()
	assert.Len(t, good.opps, 1)
	good.mu.Unlock()
}

func TestRun_SchedulesWhileActive(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	require.Eventually(t, func() bool { return f.q.Calls() >= 4 }, 2*time.Second, 5*time.Millisecond)

	f.bot.SetActive(false)
	time.Sleep(50 * time.Millisecond)
	n := f.q.Calls()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, n, f.q.Calls(), "inactive bot schedules no cycles")

	f.bot.SetActive(true)
	require.Eventually(t, func() bool { return f.q.Calls() > n }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_WaitsForInFlightTrade(t *testing.T) {
	release := make(chan struct{})
	signer := heldSigner{Paper: chain.NewPaper(0, zap.NewNop()), release: release}
	f := newFixture(t, func(cfg *config.Config) { cfg.Settings.AutoExecute = true }, signer, nil)
	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2080})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.sink.statuses()) > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned with a trade in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1, f.bot.PnL().Completed, "stopping the loop did not abort the trade")
}

func TestRun_RejectsZeroInterval(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Bot.ScanIntervalMs = 0 }, nil, nil)
	assert.Error(t, f.bot.Run(context.Background()))
}

func TestExecuteOpportunity_Manual(t *testing.T) {
	conf := &countingConfirmer{answer: true}
	f := newFixture(t, nil, nil, conf)
	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2030})
	_, err := f.bot.Cycle(context.Background())
	require.NoError(t, err)
	opps, _ := f.bot.Opportunities()
	require.Len(t, opps, 1)

	tr, err := f.bot.ExecuteOpportunity(context.Background(), opps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.ModeManual, tr.Mode)
	assert.Equal(t, opps[0].ID, tr.OpportunityID)
	assert.Equal(t, 2, conf.n(), "$100 trade is above the large-trade bar")

	f.exec.Wait()
	pnl := f.bot.PnL()
	assert.Equal(t, 1, pnl.Completed)
	assert.InDelta(t, opps[0].NetProfitUSD, pnl.TotalUSD, 1e-6)
}

func TestExecuteOpportunity_Errors(t *testing.T) {
	f := newFixture(t, nil, nil, confirm.AlwaysNo)
	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2080})
	_, err := f.bot.Cycle(context.Background())
	require.NoError(t, err)
	opps, _ := f.bot.Opportunities()
	require.Len(t, opps, 1)

	_, err = f.bot.ExecuteOpportunity(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrUnknownOpportunity)

	tr, err := f.bot.ExecuteOpportunity(context.Background(), opps[0].ID)
	assert.ErrorIs(t, err, types.ErrDeclined)
	assert.Empty(t, tr.ID)
	assert.Empty(t, f.bot.Errors(), "a decline is not an error")
	assert.Empty(t, f.bot.Trades())

	scanOnly := New(BotContext{Config: f.cfg, Pairs: []types.TokenPair{ethUSDC}, Venues: f.bot.bc.Venues, Quoter: f.q, Costs: cheapGas})
	_, err = scanOnly.Cycle(context.Background())
	require.NoError(t, err)
	opps, _ = scanOnly.Opportunities()
	require.Len(t, opps, 1)
	_, err = scanOnly.ExecuteOpportunity(context.Background(), opps[0].ID)
	assert.ErrorIs(t, err, types.ErrNotConnected)
}

func TestExecuteOpportunity_PreconditionRecorded(t *testing.T) {
	f := newFixture(t, nil, &lowBalanceSigner{Paper: chain.NewPaper(0, zap.NewNop())}, nil)
	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2080})
	_, err := f.bot.Cycle(context.Background())
	require.NoError(t, err)
	opps, _ := f.bot.Opportunities()
	require.Len(t, opps, 1)

	_, err = f.bot.ExecuteOpportunity(context.Background(), opps[0].ID)
	assert.ErrorIs(t, err, types.ErrInsufficientGas)
	errs := f.bot.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "execute", errs[0].Source)
}

func TestFailedTradeLandsInErrorRing(t *testing.T) {
	f := newFixture(t, nil, revertingSigner{chain.NewPaper(0, zap.NewNop())}, nil)
	f.q.set(ethUSDC, map[core.VenueID]float64{uni: 2000, sushi: 2080})
	_, err := f.bot.Cycle(context.Background())
	require.NoError(t, err)
	opps, _ := f.bot.Opportunities()
	require.Len(t, opps, 1)

	_, err = f.bot.ExecuteOpportunity(context.Background(), opps[0].ID)
	require.NoError(t, err)
	f.exec.Wait()

	errs := f.bot.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "trade", errs[0].Source)
	assert.Contains(t, errs[0].Message, "Insufficient profit")
	assert.Equal(t, types.PnL{}, f.bot.PnL(), "ledger unchanged on revert")
	assert.Equal(t, []types.TradeStatus{types.TradeSubmitted, types.TradeConfirming, types.TradeFailed}, f.sink.statuses())
}

func TestContractState(t *testing.T) {
	cfg := config.Defaults()
	b := New(BotContext{Config: cfg})
	_, err := b.ContractState(context.Background())
	assert.ErrorIs(t, err, types.ErrNotConnected)

	b = New(BotContext{Config: cfg, State: func(context.Context) (interface{}, error) {
		return map[string]bool{"authorized": true}, nil
	}})
	st, err := b.ContractState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"authorized": true}, st)
}

func TestReady(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	now := time.Now()
	f.bot.now = func() time.Time { return now }
	assert.Error(t, f.bot.Ready(), "no cycle yet")

	_, err := f.bot.Cycle(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.bot.Ready())

	f.bot.now = func() time.Time { return now.Add(time.Second) }
	assert.ErrorContains(t, f.bot.Ready(), "last scan cycle")

	f.bot.SetActive(false)
	assert.NoError(t, f.bot.Ready())
}

func TestWaitPrices(t *testing.T) {
	src := pricefeed.NewStatic(map[string]float64{"ETH": 2450})
	syms := PairSymbols([]types.TokenPair{ethUSDC, btcUSDC})
	assert.Equal(t, []string{"ETH", "USDC", "CBBTC"}, syms)

	missing := WaitPrices(context.Background(), src, syms, 0, zap.NewNop())
	assert.Equal(t, []string{"CBBTC", "USDC"}, missing)

	src.Set("USDC", 1)
	src.Set("CBBTC", 60000)
	assert.Empty(t, WaitPrices(context.Background(), src, syms, time.Second, zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, []string{"DOGE"}, WaitPrices(ctx, src, []string{"DOGE"}, time.Minute, zap.NewNop()))
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	log, err = NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}

type countingConfirmer struct {
	mu     sync.Mutex
	answer bool
	calls  int
}

func (c *countingConfirmer) Confirm(context.Context, execution.Prompt) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.answer, nil
}

func (c *countingConfirmer) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type lowBalanceSigner struct{ *chain.Paper }

func (*lowBalanceSigner) NativeBalance(context.Context) (float64, error) { return 0.001, nil }
