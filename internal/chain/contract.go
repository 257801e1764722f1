package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/djstevess/arb-bot/internal/execution"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Flash-loan arbitrage contract surface used by the bot.
const arbitrageABI = `[
    {"inputs":[{"internalType":"address","name":"tokenA","type":"address"},{"internalType":"address","name":"tokenB","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"address","name":"buyDex","type":"address"},{"internalType":"address","name":"sellDex","type":"address"},{"internalType":"bytes","name":"params","type":"bytes"}],"name":"executeFlashLoanArbitrage","outputs":[{"internalType":"uint256","name":"profit","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
    {"inputs":[],"name":"owner","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
    {"inputs":[{"internalType":"address","name":"wallet","type":"address"}],"name":"authorized","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
    {"inputs":[],"name":"totalProfit","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
    {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"tokenA","type":"address"},{"indexed":true,"internalType":"address","name":"tokenB","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"profit","type":"uint256"}],"name":"ArbitrageExecuted","type":"event"}
]`

// params blob: abi.encode(uint256 minProfit, bytes extra)
var paramsArgs = func() abi.Arguments {
	u256, _ := abi.NewType("uint256", "", nil)
	bts, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{{Name: "minProfit", Type: u256}, {Name: "extra", Type: bts}}
}()

// Codec packs calls to and decodes results from the arbitrage contract.
type Codec struct {
	abi abi.ABI
}

func NewCodec() (*Codec, error) {
	parsed, err := abi.JSON(strings.NewReader(arbitrageABI))
	if err != nil {
		return nil, fmt.Errorf("parse arbitrage abi: %w", err)
	}
	return &Codec{abi: parsed}, nil
}

func (c *Codec) PackExecute(call execution.CallSpec) ([]byte, error) {
	if call.Amount == nil || call.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("pack executeFlashLoanArbitrage: amount must be positive")
	}
	minProfit := call.MinProfit
	if minProfit == nil {
		minProfit = new(big.Int)
	}
	extra := call.Extra
	if extra == nil {
		extra = []byte{}
	}
	params, err := paramsArgs.Pack(minProfit, extra)
	if err != nil {
		return nil, fmt.Errorf("pack params: %w", err)
	}
	input, err := c.abi.Pack("executeFlashLoanArbitrage",
		call.Asset, call.OutputAsset, call.Amount, call.BuyRouter, call.SellRouter, params)
	if err != nil {
		return nil, fmt.Errorf("pack executeFlashLoanArbitrage: %w", err)
	}
	return input, nil
}

// ExecuteArgs is the decoded form of an executeFlashLoanArbitrage call.
type ExecuteArgs struct {
	TokenA    common.Address
	TokenB    common.Address
	Amount    *big.Int
	BuyDex    common.Address
	SellDex   common.Address
	MinProfit *big.Int
	Extra     []byte
}

func (c *Codec) UnpackExecute(input []byte) (ExecuteArgs, error) {
	m := c.abi.Methods["executeFlashLoanArbitrage"]
	if len(input) < 4 || string(input[:4]) != string(m.ID) {
		return ExecuteArgs{}, fmt.Errorf("not an executeFlashLoanArbitrage call")
	}
	vals, err := m.Inputs.Unpack(input[4:])
	if err != nil {
		return ExecuteArgs{}, fmt.Errorf("unpack executeFlashLoanArbitrage: %w", err)
	}
	out := ExecuteArgs{
		TokenA:  vals[0].(common.Address),
		TokenB:  vals[1].(common.Address),
		Amount:  vals[2].(*big.Int),
		BuyDex:  vals[3].(common.Address),
		SellDex: vals[4].(common.Address),
	}
	pv, err := paramsArgs.Unpack(vals[5].([]byte))
	if err != nil {
		return ExecuteArgs{}, fmt.Errorf("unpack params: %w", err)
	}
	out.MinProfit = pv[0].(*big.Int)
	out.Extra = pv[1].([]byte)
	return out, nil
}

// ProfitFromLogs returns the profit of the first ArbitrageExecuted event emitted by
// contract, or nil when there is none.
func (c *Codec) ProfitFromLogs(contract common.Address, logs []*gethtypes.Log) *big.Int {
	ev := c.abi.Events["ArbitrageExecuted"]
	for _, l := range logs {
		if l == nil || l.Address != contract || len(l.Topics) == 0 || l.Topics[0] != ev.ID {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(vals) != 2 {
			continue
		}
		if p, ok := vals[1].(*big.Int); ok {
			return p
		}
	}
	return nil
}

func (c *Codec) pack(method string, args ...interface{}) ([]byte, error) {
	b, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return b, nil
}

func (c *Codec) unpackOne(method string, data []byte) (interface{}, error) {
	vals, err := c.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("unpack %s: %d values", method, len(vals))
	}
	return vals[0], nil
}
