package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/dex/core"
	"github.com/djstevess/arb-bot/internal/risk"
	"github.com/djstevess/arb-bot/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockSigner is a scripted Signer. When hold is set, AwaitFinality blocks until it is closed.
type MockSigner struct {
	mu        sync.Mutex
	ReadyErr  error
	Balance   float64
	BalErr    error
	SubmitErr error
	FinalErr  error
	Receipt   Receipt
	hold      chan struct{}
	calls     []CallSpec
	n         int
}

func newMockSigner() *MockSigner {
	return &MockSigner{
		Balance: 1,
		Receipt: Receipt{
			Success:           true,
			Profit:            big.NewInt(10_000_000_000_000_000), // 0.01 ETH
			GasUsed:           300000,
			EffectiveGasPrice: big.NewInt(1_000_000_000),
			BlockNumber:       42,
		},
	}
}

func (m *MockSigner) Ready(context.Context) error { return m.ReadyErr }

func (m *MockSigner) NativeBalance(context.Context) (float64, error) { return m.Balance, m.BalErr }

func (m *MockSigner) Submit(_ context.Context, call CallSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	m.n++
	return fmt.Sprintf("0xtx%d", m.n), nil
}

func (m *MockSigner) AwaitFinality(ctx context.Context, _ string) (Receipt, error) {
	m.mu.Lock()
	hold, rcpt, err := m.hold, m.Receipt, m.FinalErr
	m.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
	}
	if err != nil {
		return Receipt{}, err
	}
	return rcpt, nil
}

func (m *MockSigner) Calls() []CallSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallSpec(nil), m.calls...)
}

type MockConfirmer struct {
	mu      sync.Mutex
	Answers []bool
	Err     error
	Prompts []Prompt
}

func (m *MockConfirmer) Confirm(_ context.Context, p Prompt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, p)
	if m.Err != nil {
		return false, m.Err
	}
	if len(m.Answers) == 0 {
		return true, nil
	}
	a := m.Answers[0]
	m.Answers = m.Answers[1:]
	return a, nil
}

var routers = map[string]common.Address{
	string(core.VenueUniswapV3): common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"),
	string(core.VenueSushiSwap): common.HexToAddress("0x6BDED42c6DA8FBf0d2bA55B2fa120C5e0c8D7891"),
}

func testOpp(sizeUSD float64) types.Opportunity {
	return types.Opportunity{
		ID: "opp-1",
		Pair: types.TokenPair{
			Base:  types.Token{Symbol: "ETH", Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18},
			Quote: types.Token{Symbol: "USDC", Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Decimals: 6},
		},
		BuyVenue:     core.VenueUniswapV3,
		SellVenue:    core.VenueSushiSwap,
		BuyPrice:     2000,
		SellPrice:    2040,
		NetProfitUSD: sizeUSD * 0.015,
		NetProfitPct: 1.5,
		TradeSizeUSD: sizeUSD,
		BaseAmount:   sizeUSD / 2000,
		BaseUSD:      2000,
		Confidence:   90,
		GasPriceWei:  big.NewInt(1_000_000_000),
		NativeUSD:    2000,
	}
}

func newTestExecutor(t *testing.T, signer Signer, conf Confirmer, opts ...Option) (*Executor, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Chain.ConfirmTimeoutMs = 2000
	e := NewExecutor(cfg, signer, conf, risk.NewEngine(cfg), routers, zap.NewNop(), opts...)
	return e, cfg
}

type recorder struct {
	mu  sync.Mutex
	got []types.TradeStatus
	ch  chan types.Trade
}

func newRecorder() *recorder { return &recorder{ch: make(chan types.Trade, 64)} }

func (r *recorder) observe(t types.Trade) {
	r.mu.Lock()
	r.got = append(r.got, t.Status)
	r.mu.Unlock()
	r.ch <- t
}

func (r *recorder) statuses() []types.TradeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.TradeStatus(nil), r.got...)
}

func TestExecute_ManualCompleted(t *testing.T) {
	signer := newMockSigner()
	conf := &MockConfirmer{}
	e, _ := newTestExecutor(t, signer, conf)
	rec := newRecorder()
	e.OnTrade(rec.observe)

	tr, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
	require.NoError(t, err)

	assert.Equal(t, types.TradeCompleted, tr.Status)
	assert.Equal(t, "0xtx1", tr.TxRef)
	require.NotNil(t, tr.Profit)
	assert.InDelta(t, 20.0, *tr.Profit, 1e-9)
	assert.False(t, tr.ProfitEstimated)
	assert.InDelta(t, 0.6, tr.GasCostUSD, 1e-9)
	assert.Equal(t, uint64(42), tr.BlockNumber)
	assert.Equal(t, types.ModeManual, tr.Mode)

	assert.Equal(t, []types.TradeStatus{types.TradeSubmitted, types.TradeConfirming, types.TradeCompleted}, rec.statuses())
	assert.Len(t, conf.Prompts, 1, "small trade asks once")
	assert.InDelta(t, 20.0, e.Ledger().Total(), 1e-9)
	assert.Equal(t, 1, e.Ledger().Completed())
	require.Equal(t, 1, e.History().Len())
	assert.Equal(t, tr, e.History().List()[0])

	calls := signer.Calls()
	require.Len(t, calls, 1)
	c := calls[0]
	assert.Equal(t, routers[string(core.VenueUniswapV3)], c.BuyRouter)
	assert.Equal(t, routers[string(core.VenueSushiSwap)], c.SellRouter)
	assert.Equal(t, "20000000000000000", c.Amount.String()) // 0.02 ETH
	assert.Equal(t, uint64(500000), c.GasLimit)
	assert.Equal(t, 1, c.MinProfit.Sign())
	assert.Equal(t, -1, c.MinProfit.Cmp(c.ExpectedProfit), "min profit has slippage taken off")
}

func TestExecute_ProfitEstimatedWithoutEvent(t *testing.T) {
	signer := newMockSigner()
	signer.Receipt.Profit = nil
	e, _ := newTestExecutor(t, signer, nil, WithRequireConfirmation(false))

	tr, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
	require.NoError(t, err)
	require.NotNil(t, tr.Profit)
	assert.InDelta(t, 0.6, *tr.Profit, 1e-9)
	assert.True(t, tr.ProfitEstimated)
	assert.InDelta(t, 0.6, e.Ledger().Total(), 1e-9)
}

func TestExecute_RevertLeavesLedgerUnchanged(t *testing.T) {
	signer := newMockSigner()
	signer.Receipt = Receipt{Success: false, RevertReason: "execution reverted: Insufficient profit", GasUsed: 100000, EffectiveGasPrice: big.NewInt(1_000_000_000)}
	e, _ := newTestExecutor(t, signer, &MockConfirmer{})

	tr, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrExecutionFailed)

	assert.Equal(t, types.TradeFailed, tr.Status)
	assert.Equal(t, "execution reverted: Insufficient profit", tr.Error)
	assert.Equal(t, types.ErrKindReverted, tr.ErrorKind)
	assert.Nil(t, tr.Profit)
	assert.Equal(t, "0xtx1", tr.TxRef)
	assert.InDelta(t, 0.2, tr.GasCostUSD, 1e-9)

	assert.Equal(t, 0.0, e.Ledger().Total())
	assert.Equal(t, 0, e.Ledger().Completed())
	assert.Equal(t, 1, e.History().Len(), "failed trades are kept")
}

func TestExecute_SubmissionRejected(t *testing.T) {
	signer := newMockSigner()
	signer.SubmitErr = errors.New("user rejected transaction")
	e, _ := newTestExecutor(t, signer, &MockConfirmer{})
	rec := newRecorder()
	e.OnTrade(rec.observe)

	tr, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
	assert.ErrorIs(t, err, types.ErrExecutionFailed)
	assert.Equal(t, types.TradeFailed, tr.Status)
	assert.Empty(t, tr.TxRef)
	assert.Equal(t, "user rejected transaction", tr.Error)
	assert.Equal(t, types.ErrKindUserRejected, tr.ErrorKind)
	assert.Equal(t, []types.TradeStatus{types.TradeFailed}, rec.statuses())
	assert.Equal(t, 1, e.History().Len())
}

func TestExecute_FinalityError(t *testing.T) {
	signer := newMockSigner()
	signer.FinalErr = errors.New("insufficient funds for gas * price + value")
	e, _ := newTestExecutor(t, signer, nil, WithRequireConfirmation(false))

	tr, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
	assert.ErrorIs(t, err, types.ErrExecutionFailed)
	assert.Equal(t, types.TradeFailed, tr.Status)
	assert.Equal(t, types.ErrKindInsufficientFunds, tr.ErrorKind)
}

func TestExecute_DeclineDiscardsTrade(t *testing.T) {
	signer := newMockSigner()
	conf := &MockConfirmer{Answers: []bool{false}}
	e, _ := newTestExecutor(t, signer, conf)
	rec := newRecorder()
	e.OnTrade(rec.observe)

	tr, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
	assert.ErrorIs(t, err, types.ErrDeclined)
	assert.Equal(t, types.Trade{}, tr)
	assert.Empty(t, signer.Calls())
	assert.Empty(t, rec.statuses())
	assert.Equal(t, 0, e.History().Len())

	_, err = e.Execute(context.Background(), testOpp(40), types.ModeManual)
	assert.NoError(t, err, "slot released after decline")
}

func TestExecute_ConfirmerError(t *testing.T) {
	e, _ := newTestExecutor(t, newMockSigner(), &MockConfirmer{Err: context.Canceled})
	_, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
	assert.ErrorIs(t, err, types.ErrDeclined)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_LargeTradeAsksTwice(t *testing.T) {
	signer := newMockSigner()
	conf := &MockConfirmer{Answers: []bool{true, false}}
	e, _ := newTestExecutor(t, signer, conf)

	_, err := e.Execute(context.Background(), testOpp(100), types.ModeManual)
	assert.ErrorIs(t, err, types.ErrDeclined)
	require.Len(t, conf.Prompts, 2)
	assert.Equal(t, 1, conf.Prompts[0].Step)
	assert.Equal(t, 2, conf.Prompts[1].Step)
	assert.Equal(t, types.TradeCreated, conf.Prompts[0].Trade.Status)
	assert.Empty(t, signer.Calls())

	conf.Answers = []bool{true, true}
	tr, err := e.Execute(context.Background(), testOpp(100), types.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, types.TradeCompleted, tr.Status)
}

func TestExecute_Preconditions(t *testing.T) {
	t.Run("no signer", func(t *testing.T) {
		e, _ := newTestExecutor(t, nil, &MockConfirmer{})
		_, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
		assert.ErrorIs(t, err, types.ErrNotConnected)
		assert.Equal(t, 0, e.History().Len())
	})
	t.Run("contract missing", func(t *testing.T) {
		s := newMockSigner()
		s.ReadyErr = errors.New("no code at address")
		e, _ := newTestExecutor(t, s, &MockConfirmer{})
		_, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
		assert.ErrorIs(t, err, types.ErrNotConnected)
	})
	t.Run("low gas balance", func(t *testing.T) {
		s := newMockSigner()
		s.Balance = 0.001
		conf := &MockConfirmer{}
		e, _ := newTestExecutor(t, s, conf)
		_, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
		assert.ErrorIs(t, err, types.ErrInsufficientGas)
		assert.Empty(t, conf.Prompts, "checked before asking")
		assert.Empty(t, s.Calls())
		assert.Equal(t, 0, e.History().Len())
	})
	t.Run("unknown router", func(t *testing.T) {
		e, _ := newTestExecutor(t, newMockSigner(), &MockConfirmer{})
		opp := testOpp(40)
		opp.SellVenue = core.VenuePancakeSwap
		_, err := e.Execute(context.Background(), opp, types.ModeManual)
		assert.ErrorContains(t, err, "no router")
	})
}

func TestExecute_AutoPath(t *testing.T) {
	conf := &MockConfirmer{}
	e, _ := newTestExecutor(t, newMockSigner(), conf)

	low := testOpp(40)
	low.Confidence = 70
	_, err := e.Execute(context.Background(), low, types.ModeAuto)
	assert.ErrorIs(t, err, types.ErrPolicyRejected)

	oversized := testOpp(150)
	_, err = e.Execute(context.Background(), oversized, types.ModeAuto)
	assert.ErrorIs(t, err, types.ErrPolicyRejected)
	assert.Equal(t, 0, e.History().Len())

	tr, err := e.Execute(context.Background(), testOpp(100), types.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, types.TradeCompleted, tr.Status)
	assert.Equal(t, types.ModeAuto, tr.Mode)
	assert.Empty(t, conf.Prompts, "auto path skips the gate")
}

func TestExecute_SingleFlight(t *testing.T) {
	signer := newMockSigner()
	signer.hold = make(chan struct{})
	e, _ := newTestExecutor(t, signer, nil, WithRequireConfirmation(false))
	rec := newRecorder()
	e.OnTrade(rec.observe)

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
		done <- err
	}()
	require.Equal(t, types.TradeSubmitted, (<-rec.ch).Status)

	_, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
	assert.ErrorIs(t, err, types.ErrTradeInProgress)
	_, err = e.Submit(context.Background(), testOpp(40), types.ModeManual)
	assert.ErrorIs(t, err, types.ErrTradeInProgress)

	close(signer.hold)
	require.NoError(t, <-done)

	_, err = e.Execute(context.Background(), testOpp(40), types.ModeManual)
	assert.NoError(t, err)
	assert.Len(t, signer.Calls(), 2)
}

func TestSubmit_ReturnsAfterSubmittedAndSettlesLater(t *testing.T) {
	signer := newMockSigner()
	signer.hold = make(chan struct{})
	e, _ := newTestExecutor(t, signer, nil, WithRequireConfirmation(false))

	ctx, cancel := context.WithCancel(context.Background())
	tr, err := e.Submit(ctx, testOpp(40), types.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, types.TradeSubmitted, tr.Status)
	assert.Equal(t, 0, e.History().Len())

	cancel() // stopping the caller must not abort the in-flight trade
	close(signer.hold)
	e.Wait()

	require.Equal(t, 1, e.History().Len())
	final := e.History().List()[0]
	assert.Equal(t, tr.ID, final.ID)
	assert.Equal(t, types.TradeCompleted, final.Status)
	assert.InDelta(t, 20.0, e.Ledger().Total(), 1e-9)
}

func TestExecute_FinalityTimeout(t *testing.T) {
	signer := newMockSigner()
	signer.hold = make(chan struct{})
	defer close(signer.hold)
	e, _ := newTestExecutor(t, signer, nil, WithRequireConfirmation(false))
	e.confirmTimeout = 20 * time.Millisecond

	tr, err := e.Execute(context.Background(), testOpp(40), types.ModeManual)
	assert.ErrorIs(t, err, types.ErrExecutionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.TradeFailed, tr.Status)
	assert.Equal(t, types.ErrKindTimeout, tr.ErrorKind)
}

func TestLedgerEqualsSumOfCompletedProfit(t *testing.T) {
	signer := newMockSigner()
	e, _ := newTestExecutor(t, signer, nil, WithRequireConfirmation(false), WithHistory(NewHistory(100)))
	r := rand.New(rand.NewSource(3))

	for i := 0; i < 40; i++ {
		switch r.Intn(3) {
		case 0:
			signer.Receipt = Receipt{Success: false, RevertReason: "execution reverted"}
		case 1:
			signer.Receipt = Receipt{Success: true, Profit: big.NewInt(r.Int63n(1e16))}
		default:
			signer.Receipt = Receipt{Success: true}
		}
		_, _ = e.Execute(context.Background(), testOpp(40), types.ModeManual)

		sum, n := 0.0, 0
		for _, tr := range e.History().List() {
			if tr.Status == types.TradeCompleted {
				sum += *tr.Profit
				n++
			}
		}
		assert.InDelta(t, sum, e.Ledger().Total(), 1e-6)
		assert.Equal(t, n, e.Ledger().Completed())
	}

	e.Ledger().Reset()
	assert.Equal(t, 0.0, e.Ledger().Total())
}
