package chain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/djstevess/arb-bot/internal/execution"
	"go.uber.org/zap"
)

// Paper is the dry-run signer. Nothing leaves the process: transactions get random
// hashes and settle after a fixed delay. A trade succeeds when confidence is above 60
// and net margin above 0.3%, and then books exactly the expected profit.
type Paper struct {
	delay   time.Duration
	balance float64
	log     *zap.Logger

	mu      sync.Mutex
	pending map[string]execution.CallSpec
	block   uint64
}

var _ execution.Signer = (*Paper)(nil)

const (
	paperMinConfidence = 60
	paperMinNetPct     = 0.3
	paperGasUsed       = 350000
)

func NewPaper(delay time.Duration, log *zap.Logger) *Paper {
	return &Paper{
		delay:   delay,
		balance: 1,
		log:     log,
		pending: make(map[string]execution.CallSpec),
		block:   1,
	}
}

func (p *Paper) Ready(context.Context) error { return nil }

func (p *Paper) NativeBalance(context.Context) (float64, error) { return p.balance, nil }

func (p *Paper) Submit(_ context.Context, call execution.CallSpec) (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("paper tx hash: %w", err)
	}
	ref := "0x" + hex.EncodeToString(b[:])

	p.mu.Lock()
	p.pending[ref] = call
	p.mu.Unlock()

	p.log.Info("paper trade submitted", zap.String("tx", ref), zap.Float64("confidence", call.Confidence))
	return ref, nil
}

func (p *Paper) AwaitFinality(ctx context.Context, txRef string) (execution.Receipt, error) {
	p.mu.Lock()
	call, ok := p.pending[txRef]
	p.mu.Unlock()
	if !ok {
		return execution.Receipt{}, fmt.Errorf("unknown paper tx %s", txRef)
	}

	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return execution.Receipt{}, fmt.Errorf("wait receipt %s: %w", txRef, ctx.Err())
		case <-t.C:
		}
	}

	p.mu.Lock()
	delete(p.pending, txRef)
	p.block++
	block := p.block
	p.mu.Unlock()

	r := execution.Receipt{
		GasUsed:     paperGasUsed,
		BlockNumber: block,
	}
	if call.GasPrice != nil {
		r.EffectiveGasPrice = new(big.Int).Set(call.GasPrice)
	}
	if call.Confidence > paperMinConfidence && call.NetProfitPct > paperMinNetPct {
		r.Success = true
		if call.ExpectedProfit != nil {
			r.Profit = new(big.Int).Set(call.ExpectedProfit)
		}
		return r, nil
	}
	r.RevertReason = "execution reverted: Insufficient profit"
	return r, nil
}
