package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/connectors/redisfeed"
	"github.com/djstevess/arb-bot/internal/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tradewatch follows a running bot through its Redis feed: ledger, recent errors,
// the top of the opportunity set, then every trade transition as it happens.
func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config")
	group := flag.String("group", "tradewatch", "consumer group on the trade stream")
	from := flag.String("from", "$", "stream id to start a new group at ($ = new entries only, 0 = all)")
	top := flag.Int64("top", 5, "opportunities to list")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Redis.Addr == "" {
		fmt.Fprintln(os.Stderr, "redis.addr is empty; the bot is not publishing a feed")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redisfeed.NewClient(cfg)
	defer rdb.Close()
	con := redisfeed.NewConsumer(rdb, cfg.Redis.Prefix, zap.NewNop())

	if err := printSnapshot(ctx, con, *top); err != nil {
		fmt.Fprintln(os.Stderr, "redis:", err)
		os.Exit(1)
	}

	if err := con.EnsureGroup(ctx, *group, *from); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	consumer := "tw-" + uuid.NewString()[:8]
	trades := make(chan types.Trade, 16)
	done := make(chan error, 1)
	go func() { done <- con.StreamTrades(ctx, *group, consumer, trades) }()

	fmt.Printf("[stream] following trades as %s/%s\n", *group, consumer)
	for {
		select {
		case t := <-trades:
			printTrade(t)
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintln(os.Stderr, "stream:", err)
				os.Exit(1)
			}
			return
		}
	}
}

func printSnapshot(ctx context.Context, con *redisfeed.Consumer, top int64) error {
	led, err := con.Ledger(ctx)
	switch {
	case errors.Is(err, redis.Nil):
		fmt.Println("[ledger] nothing published yet")
	case err != nil:
		return err
	default:
		fmt.Printf("[ledger] total $%.2f over %d trades (as of %s)\n",
			led.Total, led.Completed, time.UnixMilli(led.TsMs).Format(time.RFC3339))
	}

	errs, err := con.Errors(ctx)
	if err != nil {
		return err
	}
	for _, e := range errs {
		fmt.Printf("[error] %s %-8s %s\n", e.At.Format(time.RFC3339), e.Source, e.Message)
	}

	ids, err := con.TopOpportunityIDs(ctx, top)
	if err != nil {
		return err
	}
	fmt.Printf("[opps] %d active: %v\n", len(ids), ids)
	return nil
}

func printTrade(t types.Trade) {
	line := fmt.Sprintf("[trade] %s %-10s %-12s %s -> %s $%.2f", t.ID, t.Status, t.Pair, t.BuyVenue, t.SellVenue, t.AmountUSD)
	if t.TxRef != "" {
		line += " tx=" + t.TxRef
	}
	if t.Profit != nil {
		line += fmt.Sprintf(" profit=$%.4f", *t.Profit)
		if t.ProfitEstimated {
			line += " (est)"
		}
	}
	if t.Error != "" {
		line += fmt.Sprintf(" error=%q kind=%s", t.Error, t.ErrorKind)
	}
	fmt.Println(line)
}
