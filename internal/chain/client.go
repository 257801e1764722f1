package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/execution"
	"github.com/djstevess/arb-bot/internal/multicall"
	"github.com/djstevess/arb-bot/internal/types"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Backend is the slice of *ethclient.Client the bot talks to.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Client is the live execution.Signer: it signs executeFlashLoanArbitrage calls with the
// configured wallet and follows them to a receipt.
type Client struct {
	cfg      *config.Config
	log      *zap.Logger
	be       Backend
	codec    *Codec
	mc       multicall.IClient
	contract common.Address
	pk       *ecdsa.PrivateKey
	sender   common.Address
	poll     time.Duration

	mu      sync.Mutex
	pending map[common.Hash]ethereum.CallMsg
}

var _ execution.Signer = (*Client)(nil)

func Dial(cfg *config.Config, log *zap.Logger) (*Client, error) {
	ec, err := ethclient.Dial(cfg.Chain.RPCHTTP)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewClient(cfg, ec, log)
}

func NewClient(cfg *config.Config, be Backend, log *zap.Logger) (*Client, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}

	pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.WalletPK, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad private key: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		be:      be,
		codec:   codec,
		pk:      pk,
		sender:  crypto.PubkeyToAddress(pk.PublicKey),
		poll:    cfg.ReceiptPoll(),
		pending: make(map[common.Hash]ethereum.CallMsg),
	}
	if cfg.Chain.Contract != "" {
		c.contract = common.HexToAddress(cfg.Chain.Contract)
	}
	if cfg.Chain.Multicall != "" {
		mc, err := multicall.New(be, common.HexToAddress(cfg.Chain.Multicall))
		if err != nil {
			return nil, err
		}
		c.mc = mc
	}
	if c.poll <= 0 {
		c.poll = time.Second
	}
	return c, nil
}

func (c *Client) Sender() common.Address   { return c.sender }
func (c *Client) Contract() common.Address { return c.contract }

// SuggestGasPrice lets the client serve as the detector's gas oracle.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.be.SuggestGasPrice(ctx)
}

// Ready checks that a contract is configured and has code deployed.
func (c *Client) Ready(ctx context.Context) error {
	if c.contract == (common.Address{}) {
		return errors.New("no contract address configured")
	}
	code, err := c.be.CodeAt(ctx, c.contract, nil)
	if err != nil {
		return fmt.Errorf("get code: %w", err)
	}
	if len(code) == 0 {
		return fmt.Errorf("no contract code at %s", c.contract.Hex())
	}
	return nil
}

func (c *Client) NativeBalance(ctx context.Context) (float64, error) {
	bal, err := c.be.BalanceAt(ctx, c.sender, nil)
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", c.sender.Hex(), err)
	}
	return types.ToFloat(bal, 18), nil
}

func (c *Client) Submit(ctx context.Context, call execution.CallSpec) (string, error) {
	input, err := c.codec.PackExecute(call)
	if err != nil {
		return "", err
	}
	msg := ethereum.CallMsg{From: c.sender, To: &c.contract, Data: input}

	// a dry call surfaces the revert reason before gas is spent
	if _, err := c.be.CallContract(ctx, msg, nil); err != nil {
		return "", fmt.Errorf("simulate: %w", err)
	}

	signedTx, err := c.signTx(ctx, input, call)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := c.be.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	c.mu.Lock()
	c.pending[signedTx.Hash()] = msg
	c.mu.Unlock()

	c.log.Info("flash loan tx sent",
		zap.String("tx", signedTx.Hash().Hex()),
		zap.Uint64("nonce", signedTx.Nonce()),
		zap.String("amount", call.Amount.String()),
	)
	return signedTx.Hash().Hex(), nil
}

func (c *Client) signTx(ctx context.Context, input []byte, call execution.CallSpec) (*gethtypes.Transaction, error) {
	chainID, err := c.be.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	nonce, err := c.be.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	gasTipCap, err := c.be.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip cap: %w", err)
	}

	header, err := c.be.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get header: %w", err)
	}
	if header.BaseFee == nil {
		return nil, errors.New("get header: no base fee")
	}
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
		gasTipCap,
	)
	// never bid below the price the opportunity was costed at
	if call.GasPrice != nil && call.GasPrice.Cmp(gasFeeCap) > 0 {
		gasFeeCap = new(big.Int).Set(call.GasPrice)
	}

	gas := call.GasLimit
	if gas == 0 {
		gas = c.cfg.Settings.GasLimit
	}

	contract := c.contract
	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gas,
		To:        &contract,
		Value:     big.NewInt(0),
		Data:      input,
	})

	signedTx, err := gethtypes.SignTx(tx, gethtypes.NewLondonSigner(chainID), c.pk)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}

// AwaitFinality polls for the receipt until it lands or ctx ends.
func (c *Client) AwaitFinality(ctx context.Context, txRef string) (execution.Receipt, error) {
	hash := common.HexToHash(txRef)
	t := time.NewTicker(c.poll)
	defer t.Stop()

	for {
		r, err := c.be.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && r != nil:
			return c.toReceipt(ctx, hash, r), nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			c.log.Debug("receipt poll failed", zap.String("tx", txRef), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			c.forget(hash)
			return execution.Receipt{}, fmt.Errorf("wait receipt %s: %w", txRef, ctx.Err())
		case <-t.C:
		}
	}
}

// forget drops the replay call kept for a transaction nobody waits on anymore.
func (c *Client) forget(hash common.Hash) {
	c.mu.Lock()
	delete(c.pending, hash)
	c.mu.Unlock()
}

func (c *Client) toReceipt(ctx context.Context, hash common.Hash, r *gethtypes.Receipt) execution.Receipt {
	c.mu.Lock()
	msg, ok := c.pending[hash]
	delete(c.pending, hash)
	c.mu.Unlock()

	out := execution.Receipt{
		Success:           r.Status == gethtypes.ReceiptStatusSuccessful,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if out.Success {
		out.Profit = c.codec.ProfitFromLogs(c.contract, r.Logs)
		return out
	}

	out.RevertReason = "execution reverted"
	if ok && r.BlockNumber != nil {
		// replay at the failing block to recover the reason string
		if _, err := c.be.CallContract(ctx, msg, r.BlockNumber); err != nil {
			out.RevertReason = err.Error()
		}
	}
	return out
}

// State is the contract's self-reported status for the configured wallet.
type State struct {
	Contract    common.Address `json:"contract"`
	Wallet      common.Address `json:"wallet"`
	Owner       common.Address `json:"owner"`
	Authorized  bool           `json:"authorized"`
	TotalProfit *big.Int       `json:"totalProfit"`
}

// ContractState reads owner, authorized(wallet) and totalProfit, batched through
// multicall when one is configured.
func (c *Client) ContractState(ctx context.Context) (State, error) {
	st := State{Contract: c.contract, Wallet: c.sender}
	if c.contract == (common.Address{}) {
		return st, types.ErrNotConnected
	}

	ownerData, err := c.codec.pack("owner")
	if err != nil {
		return st, err
	}
	authData, err := c.codec.pack("authorized", c.sender)
	if err != nil {
		return st, err
	}
	profitData, err := c.codec.pack("totalProfit")
	if err != nil {
		return st, err
	}
	reqs := [][]byte{ownerData, authData, profitData}

	raw, err := c.readAll(ctx, reqs)
	if err != nil {
		return st, err
	}

	var errs []error
	if v, err := c.decode("owner", raw[0]); err != nil {
		errs = append(errs, err)
	} else {
		st.Owner, _ = v.(common.Address)
	}
	if v, err := c.decode("authorized", raw[1]); err != nil {
		errs = append(errs, err)
	} else {
		st.Authorized, _ = v.(bool)
	}
	if v, err := c.decode("totalProfit", raw[2]); err != nil {
		errs = append(errs, err)
	} else {
		st.TotalProfit, _ = v.(*big.Int)
	}
	return st, errors.Join(errs...)
}

func (c *Client) decode(method string, data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: call failed", method)
	}
	return c.codec.unpackOne(method, data)
}

// readAll returns one result per request; a nil entry marks a failed call.
func (c *Client) readAll(ctx context.Context, reqs [][]byte) ([][]byte, error) {
	out := make([][]byte, len(reqs))
	if c.mc != nil {
		calls := make([]multicall.Call, len(reqs))
		for i, data := range reqs {
			calls[i] = multicall.Call{Target: c.contract, CallData: data}
		}
		res, err := c.mc.Aggregate(ctx, calls)
		if err == nil {
			for i, r := range res {
				if r.Success {
					out[i] = r.Data
				}
			}
			return out, nil
		}
		c.log.Warn("multicall failed, falling back to direct calls", zap.Error(err))
	}

	for i, data := range reqs {
		res, err := c.be.CallContract(ctx, ethereum.CallMsg{From: c.sender, To: &c.contract, Data: data}, nil)
		if err != nil {
			c.log.Debug("contract read failed", zap.Error(err))
			continue
		}
		out[i] = res
	}
	return out, nil
}
