package multicall

import (
	"context"
	"fmt"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3 subset. tryAggregate with requireSuccess=false keeps going past
// reverting calls and reports each one.
const multicallABI = `[
{
    "inputs": [
        {"name": "requireSuccess", "type": "bool"},
        {
            "components": [
                {"name": "target", "type": "address"},
                {"name": "callData", "type": "bytes"}
            ],
            "name": "calls",
            "type": "tuple[]"
        }
    ],
    "name": "tryAggregate",
    "outputs": [
        {
            "components": [
                {"name": "success", "type": "bool"},
                {"name": "returnData", "type": "bytes"}
            ],
            "name": "returnData",
            "type": "tuple[]"
        }
    ],
    "stateMutability": "payable",
    "type": "function"
}
]`

type IClient interface {
	Aggregate(ctx context.Context, calls []Call) ([]Result, error)
}

type Client struct {
	c    ethereum.ContractCaller
	addr common.Address
	abi  abi.ABI
}

// New binds a Multicall3 deployment. Any ContractCaller works; *ethclient.Client in production.
func New(c ethereum.ContractCaller, multicallAddr common.Address) (*Client, error) {
	parsedABI, err := ParseABI()
	if err != nil {
		return nil, err
	}
	return &Client{c: c, addr: multicallAddr, abi: parsedABI}, nil
}

func ParseABI() (abi.ABI, error) {
	parsedABI, err := abi.JSON(strings.NewReader(multicallABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("bad abi: %w", err)
	}
	return parsedABI, nil
}

type Call struct {
	Target   common.Address
	CallData []byte
}

type Result struct {
	Success bool
	Data    []byte
}

func (c *Client) Aggregate(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	payload, err := c.abi.Pack("tryAggregate", false, calls)
	if err != nil {
		return nil, fmt.Errorf("pack tryAggregate: %w", err)
	}

	res, err := c.c.CallContract(ctx, ethereum.CallMsg{To: &c.addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call tryAggregate: %w", err)
	}

	out, err := c.abi.Unpack("tryAggregate", res)
	if err != nil {
		return nil, fmt.Errorf("unpack tryAggregate: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack tryAggregate: %d outputs", len(out))
	}

	type wireResult struct {
		Success    bool
		ReturnData []byte
	}
	rows := *abi.ConvertType(out[0], new([]wireResult)).(*[]wireResult)
	if len(rows) != len(calls) {
		return nil, fmt.Errorf("tryAggregate: %d results for %d calls", len(rows), len(calls))
	}

	results := make([]Result, len(rows))
	for i, r := range rows {
		results[i] = Result{Success: r.Success, Data: r.ReturnData}
	}
	return results, nil
}
