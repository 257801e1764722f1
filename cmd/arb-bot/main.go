package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/djstevess/arb-bot/internal/bot"
	"github.com/djstevess/arb-bot/internal/chain"
	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/confirm"
	"github.com/djstevess/arb-bot/internal/connectors/redisfeed"
	"github.com/djstevess/arb-bot/internal/dash"
	"github.com/djstevess/arb-bot/internal/detector"
	"github.com/djstevess/arb-bot/internal/dex/core"
	"github.com/djstevess/arb-bot/internal/execution"
	"github.com/djstevess/arb-bot/internal/marketdata"
	"github.com/djstevess/arb-bot/internal/metrics"
	"github.com/djstevess/arb-bot/internal/pricefeed"
	"github.com/djstevess/arb-bot/internal/risk"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath string
	logLevel   string
	dryRun     bool
	once       bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "./config.yaml", "path to config file")
	flag.StringVar(&o.logLevel, "log-level", "debug", "debug | info | warn | error")
	flag.BoolVar(&o.dryRun, "dry-run", false, "force paper trading regardless of config")
	flag.BoolVar(&o.once, "once", false, "run a single scan cycle and exit")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()

	logger, err := bot.NewLogger(opts.logLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if opts.dryRun {
		cfg.DryRun = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Fatal("arb-bot stopped", zap.Error(err))
	}
	logger.Info("arb-bot finished")
}

func run(ctx context.Context, cfg *config.Config, opts options, log *zap.Logger) error {
	pairs, err := cfg.TokenPairs()
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redisfeed.NewClient(cfg)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
	}

	feed := newPriceSource(cfg, rdb, log)
	registry := core.NewRegistry()
	routers := make(map[string]common.Address, len(cfg.Venues))
	for _, v := range cfg.Venues {
		registry.Register(&core.Venue{
			ID:           v.ID,
			Name:         v.Name,
			Router:       common.HexToAddress(v.Router),
			VariationPct: v.VariationPct,
			LiquidityUSD: v.LiquidityUSD,
			Source:       feed,
		})
		routers[string(v.ID)] = common.HexToAddress(v.Router)
	}

	var (
		signer execution.Signer
		oracle detector.GasOracle
		state  func(ctx context.Context) (interface{}, error)
	)
	if cfg.DryRun {
		log.Warn("DRY-RUN: trades are simulated, nothing is sent on chain")
		signer = chain.NewPaper(cfg.PaperDelay(), log)
		if cfg.Chain.RPCHTTP != "" {
			ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCHTTP)
			if err != nil {
				log.Warn("gas oracle unavailable, using default gas price", zap.Error(err))
			} else {
				defer ec.Close()
				oracle = ec
			}
		}
	} else {
		cli, err := chain.Dial(cfg, log)
		if err != nil {
			return err
		}
		if err := cli.Ready(ctx); err != nil {
			log.Warn("arbitrage contract not ready", zap.Error(err))
		}
		signer, oracle = cli, cli
		state = func(ctx context.Context) (interface{}, error) { return cli.ContractState(ctx) }
		log.Info("wallet", zap.String("address", cli.Sender().Hex()), zap.String("contract", cli.Contract().Hex()))
	}

	guard := execution.MultiGuard{execution.NewLocalGuard()}
	if rdb != nil && cfg.Redis.Lock {
		guard = append(guard, redisfeed.NewLock(rdb, cfg.Redis.Prefix, cfg.ConfirmTimeout()+time.Minute))
	}

	riskEng := risk.NewEngine(cfg)
	exec := execution.NewExecutor(cfg, signer,
		confirm.Contextual{Next: confirm.NewTerminal(os.Stdin, os.Stdout, log)},
		riskEng, routers, log,
		execution.WithGuard(guard),
	)

	store := dash.NewStore()
	sinks := []bot.Sink{store}
	if rdb != nil {
		sinks = append(sinks, redisfeed.NewPublisher(rdb, cfg.Redis.Prefix))
	}

	b := bot.New(bot.BotContext{
		Config:   cfg,
		Pairs:    pairs,
		Venues:   registry.All(),
		Quoter:   marketdata.NewAggregator(marketdata.HashSkew, log),
		Detector: detector.New(cfg, log),
		Costs: detector.CostModel{
			Oracle:       oracle,
			Prices:       feed,
			NativeSymbol: cfg.Chain.NativeSymbol,
			FallbackGwei: cfg.Chain.DefaultGasPriceGwei,
			FallbackUSD:  cfg.Chain.NativeFallbackUSD,
			Log:          log,
		},
		Risk:     riskEng,
		Executor: exec,
		State:    state,
		Sinks:    sinks,
		Log:      log,
	})

	if missing := bot.WaitPrices(ctx, feed, bot.PairSymbols(pairs), cfg.FeedTimeout(), log); len(missing) > 0 {
		log.Warn("price feed warmup timed out, continuing with partial set", zap.Strings("missing", missing))
	}

	if opts.once {
		rep, err := b.Cycle(ctx)
		if err != nil {
			return err
		}
		opps, _ := b.Opportunities()
		for _, o := range opps {
			fmt.Printf("%-12s buy %-12s sell %-12s net %6.3f%%  $%.2f  conf %.0f\n",
				o.Pair, o.BuyVenue, o.SellVenue, o.NetProfitPct, o.NetProfitUSD, o.Confidence)
		}
		log.Info("single cycle done", zap.Int("opportunities", rep.Opportunities), zap.Duration("took", rep.Duration))
		exec.Wait()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.ListenAddr, nil, b.Ready, log) })
	if cfg.Dash.ListenAddr != "" {
		g.Go(func() error {
			return dash.StartHTTP(gctx, store, b, cfg.Dash.ListenAddr, log,
				dash.WithAllowedOrigins(cfg.Dash.AllowedOrigins...),
				dash.WithToken(cfg.Dash.Token),
			)
		})
	}

	log.Info("bot started",
		zap.Int("pairs", len(pairs)),
		zap.Int("venues", len(cfg.Venues)),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("mode", cfg.Mode),
	)
	return g.Wait()
}

// newPriceSource builds the reference feed: provider, optional shared Redis cache,
// then an in-process memo.
func newPriceSource(cfg *config.Config, rdb *redis.Client, log *zap.Logger) pricefeed.Source {
	var src pricefeed.Source
	switch cfg.PriceFeed.Provider {
	case "static":
		src = pricefeed.NewStatic(cfg.PriceFeed.Static)
	default:
		src = pricefeed.NewCoinGecko(pricefeed.CoinGeckoConfig{
			BaseURL: cfg.PriceFeed.BaseURL,
			APIKey:  cfg.PriceFeed.APIKey,
			Pro:     cfg.PriceFeed.Pro,
			Timeout: cfg.FeedTimeout(),
			FeedIDs: cfg.FeedIDs(),
		}, log)
	}
	if rdb != nil {
		src = pricefeed.NewRedisCache(rdb, src, cfg.CacheTTL(), cfg.Redis.Prefix, log)
	}
	return pricefeed.NewMemo(src, cfg.CacheTTL())
}
