package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides lets operators inject secrets and endpoints without editing the YAML file.
func applyEnvOverrides(c *Config) {
	setBool(&c.DryRun, "ARB_DRY_RUN")
	setStr(&c.Mode, "ARB_MODE")
	setBool(&c.Bot.Active, "ARB_BOT_ACTIVE")
	setInt(&c.Bot.ScanIntervalMs, "ARB_SCAN_INTERVAL_MS")
	setBool(&c.Settings.AutoExecute, "ARB_AUTO_EXECUTE")
	setFloat64(&c.Settings.MinProfitThresholdPct, "ARB_MIN_PROFIT_THRESHOLD_PCT")
	setFloat64(&c.Settings.MaxTradeSizeUSD, "ARB_MAX_TRADE_SIZE_USD")

	setStr(&c.Chain.RPCHTTP, "ARB_RPC_HTTP")
	setStr(&c.Chain.WalletPK, "ARB_WALLET_PK")
	setStr(&c.Chain.Contract, "ARB_CONTRACT")

	setStr(&c.PriceFeed.APIKey, "ARB_PRICE_FEED_API_KEY")
	setStr(&c.PriceFeed.BaseURL, "ARB_PRICE_FEED_BASE_URL")

	setStr(&c.Redis.Addr, "ARB_REDIS_ADDR")
	setStr(&c.Redis.Password, "ARB_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "ARB_REDIS_DB")

	setStr(&c.Metrics.ListenAddr, "ARB_METRICS_ADDR")
	setStr(&c.Dash.ListenAddr, "ARB_DASH_ADDR")
	setStr(&c.Dash.Token, "ARB_DASH_TOKEN")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
