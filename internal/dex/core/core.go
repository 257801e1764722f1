package core

import (
	"github.com/djstevess/arb-bot/internal/pricefeed"
	"github.com/ethereum/go-ethereum/common"
)

type VenueID string

const (
	VenueUniswapV3   VenueID = "uniswap_v3"
	VenueSushiSwap   VenueID = "sushiswap"
	VenuePancakeSwap VenueID = "pancakeswap"
)

// Venue is one trading venue the bot can buy or sell on.
// VariationPct bounds the venue skew applied on top of the reference price (±VariationPct %).
type Venue struct {
	ID           VenueID
	Name         string
	Router       common.Address
	VariationPct float64
	LiquidityUSD float64
	Source       pricefeed.Source
}
