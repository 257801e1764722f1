package detector

import (
	"context"
	"math/big"

	"github.com/djstevess/arb-bot/internal/pricefeed"
	"go.uber.org/zap"
)

var DefaultGasPriceWei = big.NewInt(20_000_000_000) // 20 gwei

// Costs are fetched once per scan cycle and shared by every pair.
type Costs struct {
	GasPriceWei *big.Int
	NativeUSD   float64
}

func (c Costs) gasPrice() *big.Int {
	if c.GasPriceWei == nil {
		return new(big.Int).Set(DefaultGasPriceWei)
	}
	return new(big.Int).Set(c.GasPriceWei)
}

type GasOracle interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// CostModel resolves gas price and native token price, falling back to fixed values
// instead of failing the scan.
type CostModel struct {
	Oracle       GasOracle
	Prices       pricefeed.Source
	NativeSymbol string
	FallbackGwei float64
	FallbackUSD  float64
	Log          *zap.Logger
}

func (m CostModel) Estimate(ctx context.Context) Costs {
	c := Costs{GasPriceWei: gweiToWei(m.FallbackGwei), NativeUSD: m.FallbackUSD}

	if m.Oracle != nil {
		gp, err := m.Oracle.SuggestGasPrice(ctx)
		if err != nil || gp == nil || gp.Sign() <= 0 {
			m.Log.Warn("gas price unavailable, using default",
				zap.Float64("gwei", m.FallbackGwei), zap.Error(err))
		} else {
			c.GasPriceWei = gp
		}
	}

	if m.Prices != nil && m.NativeSymbol != "" {
		q, err := m.Prices.Price(ctx, m.NativeSymbol)
		if err != nil {
			m.Log.Warn("native price unavailable, using fallback",
				zap.String("symbol", m.NativeSymbol),
				zap.Float64("usd", m.FallbackUSD),
				zap.Error(err))
		} else {
			c.NativeUSD = q.USD
		}
	}
	return c
}

func gweiToWei(gwei float64) *big.Int {
	if gwei <= 0 {
		return new(big.Int).Set(DefaultGasPriceWei)
	}
	w, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9)).Int(nil)
	return w
}
