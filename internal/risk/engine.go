package risk

import (
	"fmt"

	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/types"
)

type Engine struct{ cfg *config.Config }

func NewEngine(cfg *config.Config) *Engine { return &Engine{cfg: cfg} }

// Clears reports whether net profit % is strictly above the configured threshold.
func (e *Engine) Clears(o types.Opportunity) bool {
	return o.NetProfitPct > e.cfg.Settings.MinProfitThresholdPct
}

// AllowAuto gates the unattended path: threshold, confidence floor and trade-size ceiling.
func (e *Engine) AllowAuto(o types.Opportunity) error {
	s := e.cfg.Settings
	if !e.Clears(o) {
		return fmt.Errorf("%w: net %.3f%% not above threshold %.3f%%", types.ErrPolicyRejected, o.NetProfitPct, s.MinProfitThresholdPct)
	}
	if o.Confidence <= s.AutoConfidenceFloor {
		return fmt.Errorf("%w: confidence %.1f not above floor %.1f", types.ErrPolicyRejected, o.Confidence, s.AutoConfidenceFloor)
	}
	if o.TradeSizeUSD > s.MaxTradeSizeUSD {
		return fmt.Errorf("%w: size $%.2f over ceiling $%.2f", types.ErrPolicyRejected, o.TradeSizeUSD, s.MaxTradeSizeUSD)
	}
	return nil
}

// NeedsDoubleConfirm is true for manual trades larger than settings.large_trade_usd.
func (e *Engine) NeedsDoubleConfirm(amountUSD float64) bool {
	lt := e.cfg.Settings.LargeTradeUSD
	return lt > 0 && amountUSD > lt
}

func (e *Engine) MinGasBalance() float64 { return e.cfg.Settings.MinGasBalanceETH }
