package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/djstevess/arb-bot/internal/dex/core"
	"github.com/ethereum/go-ethereum/common"
)

type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int            `json:"decimals"`
	FeedID   string         `json:"feedId"` // e.g. coingecko id
}

// TokenPair is an ordered pair; prices are quoted as Quote per 1 Base.
type TokenPair struct {
	Base  Token `json:"base"`
	Quote Token `json:"quote"`
}

func (p TokenPair) String() string { return p.Base.Symbol + "/" + p.Quote.Symbol }

func (p TokenPair) Validate() error {
	if p.Base.Symbol == "" || p.Quote.Symbol == "" {
		return fmt.Errorf("pair %q: empty token symbol", p.String())
	}
	if p.Base.Symbol == p.Quote.Symbol {
		return fmt.Errorf("pair %q: base and quote must differ", p.String())
	}
	return nil
}

type VenueQuote struct {
	Venue        core.VenueID `json:"venue"`
	Price        float64      `json:"price"`   // quote per base
	BaseUSD      float64      `json:"baseUSD"` // reference USD price of the base token
	LiquidityUSD float64      `json:"liquidityUSD"`
	Ts           time.Time    `json:"ts"`
}

type Opportunity struct {
	ID        string       `json:"id"`
	Pair      TokenPair    `json:"pair"`
	BuyVenue  core.VenueID `json:"buyVenue"`
	SellVenue core.VenueID `json:"sellVenue"`
	BuyPrice  float64      `json:"buyPrice"`
	SellPrice float64      `json:"sellPrice"`

	GrossSpreadPct  float64 `json:"grossSpreadPct"`
	GasCostUSD      float64 `json:"gasCostUSD"`
	FlashLoanFeeUSD float64 `json:"flashLoanFeeUSD"`
	NetProfitUSD    float64 `json:"netProfitUSD"`
	NetProfitPct    float64 `json:"netProfitPct"`

	LiquidityUSD float64  `json:"liquidityUSD"`
	Confidence   float64  `json:"confidence"`
	TradeSizeUSD float64  `json:"tradeSizeUSD"`
	BaseAmount   float64  `json:"baseAmount"` // TradeSizeUSD expressed in base token units
	BaseUSD      float64  `json:"baseUSD"`
	GasPriceWei  *big.Int `json:"gasPriceWei"`
	NativeUSD    float64  `json:"nativeUSD"`

	CreatedAt time.Time `json:"createdAt"`
}

type TradeStatus string

const (
	TradeCreated    TradeStatus = "created"
	TradeSubmitted  TradeStatus = "submitted"
	TradeConfirming TradeStatus = "confirming"
	TradeCompleted  TradeStatus = "completed"
	TradeFailed     TradeStatus = "failed"
)

func (s TradeStatus) Terminal() bool { return s == TradeCompleted || s == TradeFailed }

type ExecMode string

const (
	ModeManual ExecMode = "manual"
	ModeAuto   ExecMode = "auto"
)

type ErrorKind string

const (
	ErrKindNone              ErrorKind = ""
	ErrKindUserRejected      ErrorKind = "user_rejected"
	ErrKindInsufficientFunds ErrorKind = "insufficient_funds"
	ErrKindReverted          ErrorKind = "reverted"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindOther             ErrorKind = "other"
)

// Trade is a snapshot of one execution attempt. The executor owns the live record;
// everything handed out is a copy.
type Trade struct {
	ID                string       `json:"id"`
	OpportunityID     string       `json:"opportunityId"`
	Pair              string       `json:"pair"`
	BuyVenue          core.VenueID `json:"buyVenue"`
	SellVenue         core.VenueID `json:"sellVenue"`
	AmountUSD         float64      `json:"amountUSD"`
	ExpectedProfitUSD float64      `json:"expectedProfitUSD"`
	Mode              ExecMode     `json:"mode"`

	Status          TradeStatus `json:"status"`
	TxRef           string      `json:"txRef,omitempty"`
	Profit          *float64    `json:"profit,omitempty"`
	ProfitEstimated bool        `json:"profitEstimated,omitempty"`
	GasCostUSD      float64     `json:"gasCostUSD,omitempty"`
	BlockNumber     uint64      `json:"blockNumber,omitempty"`
	Error           string      `json:"error,omitempty"`
	ErrorKind       ErrorKind   `json:"errorKind,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settings are the operator-facing bot settings. The engine reads them, never writes.
type Settings struct {
	MinProfitThresholdPct float64 `yaml:"min_profit_threshold_pct" json:"minProfitThresholdPct"`
	MaxTradeSizeUSD       float64 `yaml:"max_trade_size_usd" json:"maxTradeSizeUSD"`
	AutoExecute           bool    `yaml:"auto_execute" json:"autoExecute"`
	SlippageTolerancePct  float64 `yaml:"slippage_tolerance_pct" json:"slippageTolerancePct"`
	GasLimit              uint64  `yaml:"gas_limit" json:"gasLimit"`
	AutoConfidenceFloor   float64 `yaml:"auto_confidence_floor" json:"autoConfidenceFloor"`

	FlashLoanFeePct  float64 `yaml:"flash_loan_fee_pct" json:"flashLoanFeePct"`
	LargeTradeUSD    float64 `yaml:"large_trade_usd" json:"largeTradeUSD"`
	MinGasBalanceETH float64 `yaml:"min_gas_balance_eth" json:"minGasBalanceETH"`
	LiquidityShare   float64 `yaml:"liquidity_share" json:"liquidityShare"`
}

// ErrorEntry is one line of the bot's recent-errors ring.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// PnL is the ledger as shown to operators.
type PnL struct {
	TotalUSD  float64 `json:"totalUSD"`
	Completed int     `json:"completed"`
}
