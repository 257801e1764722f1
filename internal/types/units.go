package types

import (
	"math"
	"math/big"
)

// ToFloat converts raw token units to a float amount.
func ToFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	f.Quo(f, big.NewFloat(math.Pow10(decimals)))
	val, _ := f.Float64()
	return val
}

// ToUnits converts a float amount to raw token units, truncating. Negative input yields 0.
func ToUnits(amount float64, decimals int) *big.Int {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return new(big.Int)
	}
	f := new(big.Float).SetPrec(256).SetFloat64(amount)
	scale := new(big.Float).SetPrec(256).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := f.Mul(f, scale).Int(nil)
	return out
}
