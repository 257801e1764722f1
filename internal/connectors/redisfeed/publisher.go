package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/djstevess/arb-bot/internal/config"
	"github.com/djstevess/arb-bot/internal/types"
	"github.com/redis/go-redis/v9"
)

// Key layout under the configured prefix:
//
//	opp:active        ZSET  opportunity id scored by net %
//	opp:<id>          HASH  opportunity summary, expires after oppTTL
//	trades            STREAM one entry per trade transition
//	trade:<id>        STRING latest trade JSON
//	ledger            HASH  total / completed / ts_ms
//	errors            LIST  recent error entries as JSON, newest first
const (
	keyOppActive = "opp:active"
	keyOppNS     = "opp:"
	keyTrades    = "trades"
	keyTradeNS   = "trade:"
	keyLedger    = "ledger"
	keyErrors    = "errors"
	keyLock      = "lock:trade"

	oppTTL         = time.Minute
	tradesStreamMx = 1000
)

// NewClient builds the shared Redis client from config.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
}

type Publisher struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewPublisher(rdb redis.UniversalClient, prefix string) *Publisher {
	return &Publisher{rdb: rdb, prefix: prefix}
}

func (p *Publisher) key(k string) string { return p.prefix + k }

// PublishOpportunities replaces the active set with this cycle's ranked list.
func (p *Publisher) PublishOpportunities(ctx context.Context, opps []types.Opportunity, at time.Time) error {
	tsMs := at.UnixMilli()
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.key(keyOppActive))
		for _, o := range opps {
			k := p.key(keyOppNS + o.ID)
			pipe.HSet(ctx, k, map[string]interface{}{
				"pair":       o.Pair.String(),
				"buy":        string(o.BuyVenue),
				"sell":       string(o.SellVenue),
				"buy_px":     o.BuyPrice,
				"sell_px":    o.SellPrice,
				"net_pct":    o.NetProfitPct,
				"net_usd":    o.NetProfitUSD,
				"size_usd":   o.TradeSizeUSD,
				"confidence": o.Confidence,
				"ts_ms":      tsMs,
			})
			pipe.Expire(ctx, k, oppTTL)
			pipe.ZAdd(ctx, p.key(keyOppActive), redis.Z{Score: o.NetProfitPct, Member: o.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish opportunities: %w", err)
	}
	return nil
}

// PublishTrade appends the transition to the trade stream and stores the latest snapshot.
func (p *Publisher) PublishTrade(ctx context.Context, t types.Trade) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key(keyTradeNS+t.ID), b, 24*time.Hour)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.key(keyTrades),
			MaxLen: tradesStreamMx,
			Approx: true,
			Values: map[string]interface{}{
				"id":     t.ID,
				"status": string(t.Status),
				"pair":   t.Pair,
				"json":   string(b),
			},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish trade %s: %w", t.ID, err)
	}
	return nil
}

func (p *Publisher) PublishLedger(ctx context.Context, pnl types.PnL, at time.Time) error {
	if err := p.rdb.HSet(ctx, p.key(keyLedger), map[string]interface{}{
		"total":     pnl.TotalUSD,
		"completed": pnl.Completed,
		"ts_ms":     at.UnixMilli(),
	}).Err(); err != nil {
		return fmt.Errorf("publish ledger: %w", err)
	}
	return nil
}

// PublishErrors replaces the stored error ring.
func (p *Publisher) PublishErrors(ctx context.Context, errs []types.ErrorEntry) error {
	vals := make([]interface{}, 0, len(errs))
	for _, e := range errs {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal error entry: %w", err)
		}
		vals = append(vals, string(b))
	}
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.key(keyErrors))
		if len(vals) > 0 {
			pipe.RPush(ctx, p.key(keyErrors), vals...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish errors: %w", err)
	}
	return nil
}
