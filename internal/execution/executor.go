package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/djstevess/arb-bot/internal/config"
	imetrics "github.com/djstevess/arb-bot/internal/metrics"
	"github.com/djstevess/arb-bot/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// CallSpec is one executeFlashLoanArbitrage call. Amounts are raw units of Asset.
type CallSpec struct {
	Asset         common.Address
	AssetDecimals int
	Amount        *big.Int
	BuyRouter     common.Address
	SellRouter    common.Address
	OutputAsset   common.Address
	MinProfit     *big.Int
	Extra         []byte
	GasLimit      uint64
	GasPrice      *big.Int

	// hints for simulated signers
	ExpectedProfit *big.Int
	Confidence     float64
	NetProfitPct   float64
}

// Receipt is what finality reports. Profit is nil when the contract emitted no profit event.
type Receipt struct {
	Success           bool
	RevertReason      string
	Profit            *big.Int
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	BlockNumber       uint64
}

type Signer interface {
	// Ready fails when the contract is not reachable or not deployed.
	Ready(ctx context.Context) error
	NativeBalance(ctx context.Context) (float64, error)
	Submit(ctx context.Context, call CallSpec) (txRef string, err error)
	AwaitFinality(ctx context.Context, txRef string) (Receipt, error)
}

// Prompt is shown to a human before a manual trade leaves Created.
type Prompt struct {
	Trade       types.Trade
	Opportunity types.Opportunity
	Step        int // 1, or 2 for the large-trade re-check
	Message     string
}

type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

type Risk interface {
	AllowAuto(o types.Opportunity) error
	NeedsDoubleConfirm(amountUSD float64) bool
	MinGasBalance() float64
}

type Observer func(t types.Trade)

type Executor struct {
	cfg     *config.Config
	signer  Signer
	confirm Confirmer
	risk    Risk
	routers map[string]common.Address
	log     *zap.Logger

	requireConfirmation bool
	confirmTimeout      time.Duration
	guard               Guard
	ledger              *Ledger
	history             *History
	now                 func() time.Time

	obsMu     sync.RWMutex
	observers []Observer
	inflight  sync.WaitGroup
}

type Option func(*Executor)

func WithGuard(g Guard) Option              { return func(e *Executor) { e.guard = g } }
func WithLedger(l *Ledger) Option           { return func(e *Executor) { e.ledger = l } }
func WithHistory(h *History) Option         { return func(e *Executor) { e.history = h } }
func WithRequireConfirmation(v bool) Option { return func(e *Executor) { e.requireConfirmation = v } }
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// NewExecutor wires one executor for both paths. routers maps venue id to router address.
// signer may be nil: every request then fails with types.ErrNotConnected.
func NewExecutor(cfg *config.Config, signer Signer, confirm Confirmer, risk Risk, routers map[string]common.Address, log *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		cfg:                 cfg,
		signer:              signer,
		confirm:             confirm,
		risk:                risk,
		routers:             routers,
		log:                 log,
		requireConfirmation: true,
		confirmTimeout:      cfg.ConfirmTimeout(),
		now:                 time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.guard == nil {
		e.guard = NewLocalGuard()
	}
	if e.ledger == nil {
		e.ledger = NewLedger()
	}
	if e.history == nil {
		e.history = NewHistory(cfg.Bot.HistorySize)
	}
	if e.confirmTimeout <= 0 {
		e.confirmTimeout = 2 * time.Minute
	}
	return e
}

func (e *Executor) Ledger() *Ledger   { return e.ledger }
func (e *Executor) History() *History { return e.history }

// OnTrade registers an observer for every externally visible transition
// (Submitted, Confirming and the terminal state). Observers must not block.
func (e *Executor) OnTrade(fn Observer) {
	e.obsMu.Lock()
	e.observers = append(e.observers, fn)
	e.obsMu.Unlock()
}

// Wait blocks until every trade settled through Submit has reached a terminal state.
func (e *Executor) Wait() { e.inflight.Wait() }

// Execute runs one trade to a terminal state. A Failed trade is returned together with
// an error wrapping types.ErrExecutionFailed. Precondition, policy, guard and
// confirmation errors return before a trade is recorded.
func (e *Executor) Execute(ctx context.Context, opp types.Opportunity, mode types.ExecMode) (types.Trade, error) {
	return e.run(ctx, opp, mode, false)
}

// Submit is the non-blocking variant: it returns once the trade is Submitted and settles
// finality in the background.
func (e *Executor) Submit(ctx context.Context, opp types.Opportunity, mode types.ExecMode) (types.Trade, error) {
	return e.run(ctx, opp, mode, true)
}

func (e *Executor) run(ctx context.Context, opp types.Opportunity, mode types.ExecMode, async bool) (types.Trade, error) {
	if mode == types.ModeAuto {
		if err := e.risk.AllowAuto(opp); err != nil {
			return types.Trade{}, err
		}
	}

	release, err := e.guard.Acquire(ctx)
	if err != nil {
		return types.Trade{}, err
	}
	imetrics.TradeInFlight.Set(1)
	settled := false
	defer func() {
		if !settled {
			e.releaseSlot(release)
		}
	}()

	if err := e.preflight(ctx); err != nil {
		return types.Trade{}, err
	}
	call, err := e.buildCall(opp)
	if err != nil {
		return types.Trade{}, err
	}

	rec := newTradeRecord(opp, mode, e.now)
	log := e.log.With(
		zap.String("trade_id", rec.t.ID),
		zap.String("pair", rec.t.Pair),
		zap.String("mode", string(mode)),
	)

	if mode == types.ModeManual && e.requireConfirmation {
		if err := e.gate(ctx, rec.snapshot(), opp); err != nil {
			log.Info("trade declined", zap.Error(err))
			return types.Trade{}, err
		}
	}

	txRef, err := e.signer.Submit(ctx, call)
	if err != nil {
		t := e.finishFailed(rec, err, log)
		return t, fmt.Errorf("%w: %w", types.ErrExecutionFailed, err)
	}
	t, _ := rec.advance(types.TradeSubmitted, func(t *types.Trade) { t.TxRef = txRef })
	log.Info("trade submitted", zap.String("tx", txRef), zap.Float64("amount_usd", t.AmountUSD))
	e.emit(t)

	// finality is not bound to the caller: stopping the bot never aborts an in-flight trade
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.confirmTimeout)
	if async {
		settled = true
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			defer cancel()
			defer e.releaseSlot(release)
			_, _ = e.settle(fctx, rec, opp, txRef, log)
		}()
		return t, nil
	}
	defer cancel()
	return e.settle(fctx, rec, opp, txRef, log)
}

func (e *Executor) releaseSlot(release func()) {
	imetrics.TradeInFlight.Set(0)
	release()
}

func (e *Executor) preflight(ctx context.Context) error {
	if e.signer == nil {
		return types.ErrNotConnected
	}
	if err := e.signer.Ready(ctx); err != nil {
		return fmt.Errorf("%w: %w", types.ErrNotConnected, err)
	}
	bal, err := e.signer.NativeBalance(ctx)
	if err != nil {
		return fmt.Errorf("%w: balance: %w", types.ErrNotConnected, err)
	}
	if need := e.risk.MinGasBalance(); bal < need {
		return fmt.Errorf("%w: have %.6f, need %.6f", types.ErrInsufficientGas, bal, need)
	}
	return nil
}

func (e *Executor) gate(ctx context.Context, t types.Trade, opp types.Opportunity) error {
	p := Prompt{
		Trade:       t,
		Opportunity: opp,
		Step:        1,
		Message: fmt.Sprintf("Execute %s: buy on %s, sell on %s, size $%.2f, expected profit $%.2f (%.2f%%)?",
			t.Pair, opp.BuyVenue, opp.SellVenue, t.AmountUSD, opp.NetProfitUSD, opp.NetProfitPct),
	}
	ok, err := e.confirm.Confirm(ctx, p)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrDeclined, err)
	}
	if !ok {
		return types.ErrDeclined
	}
	if !e.risk.NeedsDoubleConfirm(t.AmountUSD) {
		return nil
	}
	p.Step = 2
	p.Message = fmt.Sprintf("Large trade of $%.2f. Confirm again to proceed.", t.AmountUSD)
	ok, err = e.confirm.Confirm(ctx, p)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrDeclined, err)
	}
	if !ok {
		return types.ErrDeclined
	}
	return nil
}

func (e *Executor) buildCall(opp types.Opportunity) (CallSpec, error) {
	if opp.BaseUSD <= 0 || opp.BaseAmount <= 0 {
		return CallSpec{}, fmt.Errorf("opportunity %s has no base price", opp.ID)
	}
	buy, ok := e.routers[string(opp.BuyVenue)]
	if !ok {
		return CallSpec{}, fmt.Errorf("no router for venue %q", opp.BuyVenue)
	}
	sell, ok := e.routers[string(opp.SellVenue)]
	if !ok {
		return CallSpec{}, fmt.Errorf("no router for venue %q", opp.SellVenue)
	}

	s := e.cfg.Settings
	dec := opp.Pair.Base.Decimals
	expectedBase := opp.NetProfitUSD / opp.BaseUSD
	minProfitBase := expectedBase * (1 - s.SlippageTolerancePct/100)

	return CallSpec{
		Asset:          opp.Pair.Base.Address,
		AssetDecimals:  dec,
		Amount:         types.ToUnits(opp.BaseAmount, dec),
		BuyRouter:      buy,
		SellRouter:     sell,
		OutputAsset:    opp.Pair.Quote.Address,
		MinProfit:      types.ToUnits(minProfitBase, dec),
		Extra:          []byte{},
		GasLimit:       s.GasLimit,
		GasPrice:       opp.GasPriceWei,
		ExpectedProfit: types.ToUnits(expectedBase, dec),
		Confidence:     opp.Confidence,
		NetProfitPct:   opp.NetProfitPct,
	}, nil
}

func (e *Executor) settle(ctx context.Context, rec *tradeRecord, opp types.Opportunity, txRef string, log *zap.Logger) (types.Trade, error) {
	t, err := rec.advance(types.TradeConfirming, nil)
	if err != nil {
		return t, err
	}
	e.emit(t)

	rcpt, err := e.signer.AwaitFinality(ctx, txRef)
	if err != nil {
		t := e.finishFailed(rec, err, log)
		return t, fmt.Errorf("%w: %w", types.ErrExecutionFailed, err)
	}
	gasUSD := receiptGasUSD(rcpt, opp.NativeUSD)
	if !rcpt.Success {
		reason := rcpt.RevertReason
		if reason == "" {
			reason = "execution reverted"
		}
		cause := errors.New(reason)
		t, _ := rec.advance(types.TradeFailed, func(t *types.Trade) {
			t.Error = reason
			t.ErrorKind = types.ErrKindReverted
			t.GasCostUSD = gasUSD
			t.BlockNumber = rcpt.BlockNumber
		})
		e.terminal(t, log)
		return t, fmt.Errorf("%w: %w", types.ErrExecutionFailed, cause)
	}

	profit, estimated := opp.NetProfitUSD, true
	if rcpt.Profit != nil {
		profit = types.ToFloat(rcpt.Profit, opp.Pair.Base.Decimals) * opp.BaseUSD
		estimated = false
	}
	t, err = rec.advance(types.TradeCompleted, func(t *types.Trade) {
		p := profit
		t.Profit = &p
		t.ProfitEstimated = estimated
		t.GasCostUSD = gasUSD
		t.BlockNumber = rcpt.BlockNumber
	})
	if err != nil {
		return t, err
	}
	total := e.ledger.add(profit)
	imetrics.RealizedPnL.Set(total)
	e.terminal(t, log)
	return t, nil
}

func (e *Executor) finishFailed(rec *tradeRecord, cause error, log *zap.Logger) types.Trade {
	t, _ := rec.fail(cause)
	e.terminal(t, log)
	return t
}

func (e *Executor) terminal(t types.Trade, log *zap.Logger) {
	e.history.add(t)
	if t.Status == types.TradeCompleted {
		log.Info("trade completed",
			zap.String("tx", t.TxRef),
			zap.Float64("profit_usd", *t.Profit),
			zap.Bool("estimated", t.ProfitEstimated),
			zap.Float64("gas_usd", t.GasCostUSD),
		)
	} else {
		log.Warn("trade failed",
			zap.String("tx", t.TxRef),
			zap.String("error", t.Error),
			zap.String("kind", string(t.ErrorKind)),
		)
	}
	e.emit(t)
}

func (e *Executor) emit(t types.Trade) {
	imetrics.Trades.WithLabelValues(string(t.Status), string(t.Mode)).Inc()
	e.obsMu.RLock()
	obs := e.observers
	e.obsMu.RUnlock()
	for _, fn := range obs {
		fn(t)
	}
}

func receiptGasUSD(r Receipt, nativeUSD float64) float64 {
	if r.GasUsed == 0 || r.EffectiveGasPrice == nil {
		return 0
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
	return types.ToFloat(wei, 18) * nativeUSD
}
