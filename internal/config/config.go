package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/djstevess/arb-bot/internal/dex/core"
	"github.com/djstevess/arb-bot/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeAuto   = "auto"
	ModeManual = "manual"
)

type TokenCfg struct {
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
	FeedID   string `yaml:"feed_id"`
}

type PairCfg struct {
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
}

type VenueCfg struct {
	ID           core.VenueID `yaml:"id"`
	Name         string       `yaml:"name"`
	Router       string       `yaml:"router"`
	VariationPct float64      `yaml:"variation_pct"`
	LiquidityUSD float64      `yaml:"liquidity_usd"`
}

type Config struct {
	DryRun bool   `yaml:"dry_run"`
	Mode   string `yaml:"mode"` // auto | manual

	Bot struct {
		Active         bool `yaml:"active"`
		ScanIntervalMs int  `yaml:"scan_interval_ms"`
		HistorySize    int  `yaml:"history_size"`
	} `yaml:"bot"`

	Settings types.Settings `yaml:"settings"`

	Chain struct {
		Network             string  `yaml:"network"`
		RPCHTTP             string  `yaml:"rpc_http"`
		WalletPK            string  `yaml:"wallet_pk"`
		Contract            string  `yaml:"contract"`
		Multicall           string  `yaml:"multicall"`
		DefaultGasPriceGwei float64 `yaml:"default_gas_price_gwei"`
		NativeSymbol        string  `yaml:"native_symbol"`
		NativeFallbackUSD   float64 `yaml:"native_fallback_usd"`
		ConfirmTimeoutMs    int     `yaml:"confirm_timeout_ms"`
		ReceiptPollMs       int     `yaml:"receipt_poll_ms"`
		PaperDelayMs        int     `yaml:"paper_delay_ms"`
	} `yaml:"chain"`

	Tokens map[string]TokenCfg `yaml:"tokens"`
	Pairs  []PairCfg           `yaml:"pairs"`
	Venues []VenueCfg          `yaml:"venues"`

	PriceFeed struct {
		Provider   string             `yaml:"provider"` // coingecko | static
		BaseURL    string             `yaml:"base_url"`
		APIKey     string             `yaml:"api_key"`
		Pro        bool               `yaml:"pro"`
		TimeoutMs  int                `yaml:"timeout_ms"`
		CacheTTLMs int                `yaml:"cache_ttl_ms"`
		Static     map[string]float64 `yaml:"static"`
	} `yaml:"price_feed"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Prefix   string `yaml:"prefix"`
		Lock     bool   `yaml:"lock"`
	} `yaml:"redis"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Dash struct {
		ListenAddr string `yaml:"listen_addr"`
		// Browser origins other than the dashboard's own host allowed to trade or toggle.
		AllowedOrigins []string `yaml:"allowed_origins"`
		// When set, POST routes require the X-Dash-Token header.
		Token string `yaml:"token"`
	} `yaml:"dash"`
}

// Load reads the YAML file at path, fills defaults, merges .env / ARB_* overrides
// and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}

	// .env is optional
	_ = godotenv.Load()
	applyEnvOverrides(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes YAML and applies defaults. It does not validate.
func Parse(b []byte) (*Config, error) {
	c := Defaults()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.fillDefaults()
	return c, nil
}

// Defaults mirrors the stock dashboard settings.
func Defaults() *Config {
	c := &Config{Mode: ModeManual}
	c.Settings = types.Settings{
		MinProfitThresholdPct: 0.5,
		MaxTradeSizeUSD:       100,
		AutoExecute:           false,
		SlippageTolerancePct:  0.5,
		GasLimit:              500000,
		AutoConfidenceFloor:   80,
		FlashLoanFeePct:       0.09,
		LargeTradeUSD:         50,
		MinGasBalanceETH:      0.005,
	}
	return c
}

func (c *Config) fillDefaults() {
	if c.Mode == "" {
		c.Mode = ModeManual
	}
	if c.Bot.ScanIntervalMs == 0 {
		c.Bot.ScanIntervalMs = 8000
	}
	if c.Bot.HistorySize == 0 {
		c.Bot.HistorySize = 10
	}
	if c.Settings.GasLimit == 0 {
		c.Settings.GasLimit = 500000
	}
	if c.Chain.DefaultGasPriceGwei == 0 {
		c.Chain.DefaultGasPriceGwei = 20
	}
	if c.Chain.NativeSymbol == "" {
		c.Chain.NativeSymbol = "ETH"
	}
	if c.Chain.NativeFallbackUSD == 0 {
		c.Chain.NativeFallbackUSD = 2450
	}
	if c.Chain.ConfirmTimeoutMs == 0 {
		c.Chain.ConfirmTimeoutMs = 120000
	}
	if c.Chain.ReceiptPollMs == 0 {
		c.Chain.ReceiptPollMs = 1000
	}
	if c.Chain.PaperDelayMs == 0 {
		c.Chain.PaperDelayMs = 2000
	}
	if c.PriceFeed.Provider == "" {
		c.PriceFeed.Provider = "coingecko"
	}
	if c.PriceFeed.TimeoutMs == 0 {
		c.PriceFeed.TimeoutMs = 10000
	}
	if c.PriceFeed.CacheTTLMs == 0 {
		c.PriceFeed.CacheTTLMs = 5000
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "arb:"
	}
	if len(c.Venues) == 0 {
		c.Venues = []VenueCfg{
			{ID: core.VenueUniswapV3, Name: "Uniswap V3", Router: "0x2626664c2603336E57B271c5C0b26F421741e481", VariationPct: 0.2, LiquidityUSD: 500000},
			{ID: core.VenueSushiSwap, Name: "SushiSwap", Router: "0x6BDED42c6DA8FBf0d2bA55B2fa120C5e0c8D7891", VariationPct: 0.4, LiquidityUSD: 150000},
			{ID: core.VenuePancakeSwap, Name: "PancakeSwap", Router: "0x678Aa4bF4E210cf2166753e054d5b7c31cc7fa86", VariationPct: 0.4, LiquidityUSD: 100000},
		}
	}
}

// Validate checks cross references and addresses. It collects every problem.
func (c *Config) Validate() error {
	var errs []error

	if c.Mode != ModeAuto && c.Mode != ModeManual {
		errs = append(errs, fmt.Errorf("mode: want %q or %q, got %q", ModeAuto, ModeManual, c.Mode))
	}
	s := c.Settings
	if s.MaxTradeSizeUSD <= 0 {
		errs = append(errs, errors.New("settings.max_trade_size_usd must be > 0"))
	}
	if s.SlippageTolerancePct < 0 || s.SlippageTolerancePct >= 100 {
		errs = append(errs, errors.New("settings.slippage_tolerance_pct must be in [0, 100)"))
	}
	if s.FlashLoanFeePct < 0 {
		errs = append(errs, errors.New("settings.flash_loan_fee_pct must be >= 0"))
	}
	if s.AutoConfidenceFloor < 0 || s.AutoConfidenceFloor > 100 {
		errs = append(errs, errors.New("settings.auto_confidence_floor must be in [0, 100]"))
	}
	if s.LiquidityShare < 0 || s.LiquidityShare > 1 {
		errs = append(errs, errors.New("settings.liquidity_share must be in [0, 1]"))
	}

	for sym, t := range c.Tokens {
		if t.Address != "" {
			if err := checkAddress(t.Address); err != nil {
				errs = append(errs, fmt.Errorf("tokens.%s.address: %w", sym, err))
			}
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			errs = append(errs, fmt.Errorf("tokens.%s.decimals out of range: %d", sym, t.Decimals))
		}
	}

	if len(c.Pairs) == 0 {
		errs = append(errs, errors.New("pairs: at least one pair required"))
	}
	for i, p := range c.Pairs {
		if _, ok := c.token(p.Base); !ok {
			errs = append(errs, fmt.Errorf("pairs[%d]: unknown base token %q", i, p.Base))
		}
		if _, ok := c.token(p.Quote); !ok {
			errs = append(errs, fmt.Errorf("pairs[%d]: unknown quote token %q", i, p.Quote))
		}
		if strings.EqualFold(p.Base, p.Quote) {
			errs = append(errs, fmt.Errorf("pairs[%d]: base and quote must differ", i))
		}
	}

	if len(c.Venues) < 2 {
		errs = append(errs, errors.New("venues: at least two venues required"))
	}
	seen := make(map[core.VenueID]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("venues[%d]: empty id", i))
		}
		if seen[v.ID] {
			errs = append(errs, fmt.Errorf("venues[%d]: duplicate id %q", i, v.ID))
		}
		seen[v.ID] = true
		if err := checkAddress(v.Router); err != nil {
			errs = append(errs, fmt.Errorf("venues[%d].router: %w", i, err))
		}
		if v.VariationPct < 0 {
			errs = append(errs, fmt.Errorf("venues[%d].variation_pct must be >= 0", i))
		}
	}

	if c.Chain.Contract != "" {
		if err := checkAddress(c.Chain.Contract); err != nil {
			errs = append(errs, fmt.Errorf("chain.contract: %w", err))
		}
	}
	if c.Chain.Multicall != "" {
		if err := checkAddress(c.Chain.Multicall); err != nil {
			errs = append(errs, fmt.Errorf("chain.multicall: %w", err))
		}
	}
	if !c.DryRun {
		if c.Chain.RPCHTTP == "" {
			errs = append(errs, errors.New("chain.rpc_http required unless dry_run"))
		}
		if c.Chain.WalletPK == "" {
			errs = append(errs, errors.New("chain.wallet_pk required unless dry_run"))
		}
	}

	switch c.PriceFeed.Provider {
	case "coingecko":
	case "static":
		if len(c.PriceFeed.Static) == 0 {
			errs = append(errs, errors.New("price_feed.static: prices required for static provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("price_feed.provider: unknown %q", c.PriceFeed.Provider))
	}

	return errors.Join(errs...)
}

func (c *Config) token(sym string) (TokenCfg, bool) {
	if t, ok := c.Tokens[sym]; ok {
		return t, true
	}
	for k, t := range c.Tokens {
		if strings.EqualFold(k, sym) {
			return t, true
		}
	}
	return TokenCfg{}, false
}

// Token resolves a configured token by symbol.
func (c *Config) Token(sym string) (types.Token, bool) {
	t, ok := c.token(sym)
	if !ok {
		return types.Token{}, false
	}
	return types.Token{
		Symbol:   strings.ToUpper(sym),
		Address:  common.HexToAddress(t.Address),
		Decimals: t.Decimals,
		FeedID:   t.FeedID,
	}, true
}

func (c *Config) TokenPairs() ([]types.TokenPair, error) {
	out := make([]types.TokenPair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		base, ok := c.Token(p.Base)
		if !ok {
			return nil, fmt.Errorf("unknown token %q", p.Base)
		}
		quote, ok := c.Token(p.Quote)
		if !ok {
			return nil, fmt.Errorf("unknown token %q", p.Quote)
		}
		tp := types.TokenPair{Base: base, Quote: quote}
		if err := tp.Validate(); err != nil {
			return nil, err
		}
		out = append(out, tp)
	}
	return out, nil
}

// FeedIDs maps token symbols to price feed ids.
func (c *Config) FeedIDs() map[string]string {
	out := make(map[string]string, len(c.Tokens))
	for sym, t := range c.Tokens {
		if t.FeedID != "" {
			out[strings.ToUpper(sym)] = t.FeedID
		}
	}
	return out
}

func (c *Config) AutoMode() bool { return c.Mode == ModeAuto }

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Bot.ScanIntervalMs) * time.Millisecond
}
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Chain.ConfirmTimeoutMs) * time.Millisecond
}
func (c *Config) ReceiptPoll() time.Duration {
	return time.Duration(c.Chain.ReceiptPollMs) * time.Millisecond
}
func (c *Config) PaperDelay() time.Duration {
	return time.Duration(c.Chain.PaperDelayMs) * time.Millisecond
}
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.PriceFeed.TimeoutMs) * time.Millisecond
}
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.PriceFeed.CacheTTLMs) * time.Millisecond
}
