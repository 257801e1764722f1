package detector

import (
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/dex/core"
	"github.com/djstevess/arb-bot/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Confidence: base score, weight per net %, weight for deep liquidity.
const (
	confidenceBase      = 60.0
	confidencePerNetPct = 5.0
	confidenceLiqWeight = 10.0
	confidenceLiqDepth  = 200000.0
)

type Detector struct {
	cfg *config.Config
	log *zap.Logger
	now func() time.Time
}

func New(cfg *config.Config, log *zap.Logger) *Detector {
	return &Detector{cfg: cfg, log: log, now: time.Now}
}

// Detect scores one pair. It returns false when fewer than two venues quoted, when
// the spread is not positive, or when net profit % does not strictly exceed the threshold.
func (d *Detector) Detect(pair types.TokenPair, quotes map[core.VenueID]types.VenueQuote, costs Costs) (types.Opportunity, bool) {
	qs := make([]types.VenueQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.Price > 0 && !math.IsInf(q.Price, 0) && !math.IsNaN(q.Price) {
			qs = append(qs, q)
		}
	}
	if len(qs) < 2 {
		return types.Opportunity{}, false
	}
	// map order is random; venue id breaks price ties
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].Price == qs[j].Price {
			return qs[i].Venue < qs[j].Venue
		}
		return qs[i].Price < qs[j].Price
	})
	buy, sell := qs[0], qs[len(qs)-1]

	gross := (sell.Price - buy.Price) / buy.Price * 100
	if gross <= 0 {
		return types.Opportunity{}, false
	}

	s := d.cfg.Settings
	liquidity := math.Min(buy.LiquidityUSD, sell.LiquidityUSD)
	size := s.MaxTradeSizeUSD
	if s.LiquidityShare > 0 && liquidity > 0 {
		size = math.Min(size, liquidity*s.LiquidityShare)
	}
	if size <= 0 {
		return types.Opportunity{}, false
	}

	gasUSD := GasCostUSD(costs.GasPriceWei, s.GasLimit, costs.NativeUSD)
	feeUSD := size * s.FlashLoanFeePct / 100
	net := size*gross/100 - gasUSD - feeUSD
	netPct := net / size * 100

	if !(netPct > s.MinProfitThresholdPct) {
		d.log.Debug("detector: below threshold",
			zap.String("pair", pair.String()),
			zap.Float64("gross_pct", gross),
			zap.Float64("net_pct", netPct),
		)
		return types.Opportunity{}, false
	}

	baseUSD := buy.BaseUSD
	baseAmount := 0.0
	if baseUSD > 0 {
		baseAmount = size / baseUSD
	}

	opp := types.Opportunity{
		ID:              uuid.NewString(),
		Pair:            pair,
		BuyVenue:        buy.Venue,
		SellVenue:       sell.Venue,
		BuyPrice:        buy.Price,
		SellPrice:       sell.Price,
		GrossSpreadPct:  gross,
		GasCostUSD:      gasUSD,
		FlashLoanFeeUSD: feeUSD,
		NetProfitUSD:    net,
		NetProfitPct:    netPct,
		LiquidityUSD:    liquidity,
		Confidence:      Confidence(netPct, liquidity),
		TradeSizeUSD:    size,
		BaseAmount:      baseAmount,
		BaseUSD:         baseUSD,
		GasPriceWei:     costs.gasPrice(),
		NativeUSD:       costs.NativeUSD,
		CreatedAt:       d.now(),
	}
	d.log.Info("opportunity found",
		zap.String("pair", pair.String()),
		zap.String("buy", string(opp.BuyVenue)),
		zap.String("sell", string(opp.SellVenue)),
		zap.Float64("net_usd", net),
		zap.Float64("net_pct", netPct),
		zap.Float64("confidence", opp.Confidence),
	)
	return opp, true
}

// Confidence is monotone non-decreasing in both net % and liquidity, clamped to [0, 100].
func Confidence(netPct, liquidityUSD float64) float64 {
	liq := 0.0
	if liquidityUSD > 0 {
		liq = math.Min(1, liquidityUSD/confidenceLiqDepth)
	}
	c := confidenceBase + confidencePerNetPct*netPct + confidenceLiqWeight*liq
	return math.Max(0, math.Min(100, c))
}

// Rank returns a copy sorted by NetProfitPct descending; equal values keep input order.
func Rank(opps []types.Opportunity) []types.Opportunity {
	out := make([]types.Opportunity, len(opps))
	copy(out, opps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NetProfitPct > out[j].NetProfitPct
	})
	return out
}

// GasCostUSD = gasPriceWei * gasLimit * nativeUSD / 1e18. A nil price uses DefaultGasPriceWei.
func GasCostUSD(gasPriceWei *big.Int, gasLimit uint64, nativeUSD float64) float64 {
	if gasPriceWei == nil {
		gasPriceWei = DefaultGasPriceWei
	}
	wei := new(big.Int).Mul(gasPriceWei, new(big.Int).SetUint64(gasLimit))
	eth := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	f, _ := eth.Float64()
	return f * nativeUSD
}
