package redisfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/djstevess/arb-bot/internal/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Consumer struct {
	rdb    redis.UniversalClient
	prefix string
	log    *zap.Logger
}

func NewConsumer(rdb redis.UniversalClient, prefix string, log *zap.Logger) *Consumer {
	return &Consumer{rdb: rdb, prefix: prefix, log: log}
}

func (c *Consumer) key(k string) string { return c.prefix + k }

// LedgerSnapshot is the last ledger value a bot published.
type LedgerSnapshot struct {
	Total     float64
	Completed int
	TsMs      int64
}

func (c *Consumer) Ledger(ctx context.Context) (LedgerSnapshot, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(keyLedger)).Result()
	if err != nil {
		return LedgerSnapshot{}, err
	}
	if len(m) == 0 {
		return LedgerSnapshot{}, redis.Nil
	}
	var s LedgerSnapshot
	s.Total, _ = strconv.ParseFloat(m["total"], 64)
	s.Completed, _ = strconv.Atoi(m["completed"])
	s.TsMs, _ = strconv.ParseInt(m["ts_ms"], 10, 64)
	return s, nil
}

func (c *Consumer) Errors(ctx context.Context) ([]types.ErrorEntry, error) {
	raw, err := c.rdb.LRange(ctx, c.key(keyErrors), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.ErrorEntry, 0, len(raw))
	for _, r := range raw {
		var e types.ErrorEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// TopOpportunityIDs returns up to n active opportunity ids, best net % first.
func (c *Consumer) TopOpportunityIDs(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return c.rdb.ZRevRange(ctx, c.key(keyOppActive), 0, n-1).Result()
}

// LatestTrade reads the stored snapshot of one trade.
func (c *Consumer) LatestTrade(ctx context.Context, id string) (types.Trade, error) {
	b, err := c.rdb.Get(ctx, c.key(keyTradeNS+id)).Bytes()
	if err != nil {
		return types.Trade{}, err
	}
	var t types.Trade
	if err := json.Unmarshal(b, &t); err != nil {
		return types.Trade{}, fmt.Errorf("decode trade %s: %w", id, err)
	}
	return t, nil
}

// EnsureGroup creates the consumer group on the trade stream if it is missing.
func (c *Consumer) EnsureGroup(ctx context.Context, group, start string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.key(keyTrades), group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", group, err)
	}
	return nil
}

// StreamTrades delivers trade transitions from the stream through a consumer group
// until ctx ends. Malformed entries are acked and skipped.
func (c *Consumer) StreamTrades(ctx context.Context, group, consumer string, out chan<- types.Trade) error {
	stream := c.key(keyTrades)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    100,
			Block:    time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("trade stream read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				raw, _ := m.Values["json"].(string)
				var t types.Trade
				if err := json.Unmarshal([]byte(raw), &t); err != nil || t.ID == "" {
					c.log.Warn("skip malformed trade entry", zap.String("entry", m.ID))
				} else {
					select {
					case out <- t:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				_ = c.rdb.XAck(context.WithoutCancel(ctx), stream, group, m.ID).Err()
			}
		}
	}
}
