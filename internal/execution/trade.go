package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/djstevess/arb-bot/internal/types"
	"github.com/google/uuid"
)

// allowed lists the legal next states. Failed is reachable from every non-terminal state;
// Completed only from Confirming.
var allowed = map[types.TradeStatus][]types.TradeStatus{
	types.TradeCreated:    {types.TradeSubmitted, types.TradeFailed},
	types.TradeSubmitted:  {types.TradeConfirming, types.TradeFailed},
	types.TradeConfirming: {types.TradeCompleted, types.TradeFailed},
}

func canMove(from, to types.TradeStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// tradeRecord is the executor-owned live trade.
type tradeRecord struct {
	mu  sync.Mutex
	t   types.Trade
	now func() time.Time
}

func newTradeRecord(opp types.Opportunity, mode types.ExecMode, now func() time.Time) *tradeRecord {
	ts := now()
	return &tradeRecord{
		now: now,
		t: types.Trade{
			ID:                uuid.NewString(),
			OpportunityID:     opp.ID,
			Pair:              opp.Pair.String(),
			BuyVenue:          opp.BuyVenue,
			SellVenue:         opp.SellVenue,
			AmountUSD:         opp.TradeSizeUSD,
			ExpectedProfitUSD: opp.NetProfitUSD,
			Mode:              mode,
			Status:            types.TradeCreated,
			CreatedAt:         ts,
			UpdatedAt:         ts,
		},
	}
}

// advance moves the trade to `to`, applying mutate under the lock.
func (r *tradeRecord) advance(to types.TradeStatus, mutate func(t *types.Trade)) (types.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from := r.t.Status
	if from.Terminal() {
		return r.t, fmt.Errorf("%w: %s is %s", types.ErrTradeTerminal, r.t.ID, from)
	}
	if !canMove(from, to) {
		return r.t, fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
	}
	r.t.Status = to
	if mutate != nil {
		mutate(&r.t)
	}
	r.t.UpdatedAt = r.now()
	return r.t, nil
}

func (r *tradeRecord) fail(cause error) (types.Trade, error) {
	return r.advance(types.TradeFailed, func(t *types.Trade) {
		t.Error = cause.Error()
		t.ErrorKind = Classify(cause)
	})
}

func (r *tradeRecord) snapshot() types.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t
}
