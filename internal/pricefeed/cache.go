package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Memo caches prices in-process for ttl and collapses concurrent lookups of the
// same symbol into one upstream call. One scan cycle asks for the same symbols
// from every venue, so this keeps the upstream feed at one request per symbol.
type Memo struct {
	next Source
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	items map[string]Quote
	sf    singleflight.Group
}

func NewMemo(next Source, ttl time.Duration) *Memo {
	return &Memo{next: next, ttl: ttl, now: time.Now, items: make(map[string]Quote)}
}

func (m *Memo) Price(ctx context.Context, symbol string) (Quote, error) {
	key := strings.ToUpper(symbol)
	m.mu.Lock()
	q, ok := m.items[key]
	m.mu.Unlock()
	if ok && m.now().Sub(q.Ts) < m.ttl {
		return q, nil
	}

	v, err, _ := m.sf.Do(key, func() (any, error) {
		q, err := m.next.Price(ctx, symbol)
		if err != nil {
			return Quote{}, err
		}
		q.Ts = m.now()
		m.mu.Lock()
		m.items[key] = q
		m.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return Quote{}, err
	}
	return v.(Quote), nil
}

// RedisCache shares fetched prices between bot instances through Redis string keys
// with a TTL. Redis errors degrade to a direct upstream lookup.
type RedisCache struct {
	rdb    redis.UniversalClient
	next   Source
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

func NewRedisCache(rdb redis.UniversalClient, next Source, ttl time.Duration, prefix string, log *zap.Logger) *RedisCache {
	if prefix == "" {
		prefix = "arb:"
	}
	return &RedisCache{rdb: rdb, next: next, ttl: ttl, prefix: prefix + "price:", log: log}
}

func (c *RedisCache) Price(ctx context.Context, symbol string) (Quote, error) {
	key := c.prefix + strings.ToUpper(symbol)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var q Quote
		if jerr := json.Unmarshal(raw, &q); jerr == nil && q.USD > 0 {
			return q, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn("price cache read failed", zap.String("key", key), zap.Error(err))
	}

	q, err := c.next.Price(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	if b, jerr := json.Marshal(q); jerr == nil {
		if werr := c.rdb.Set(ctx, key, b, c.ttl).Err(); werr != nil {
			c.log.Warn("price cache write failed", zap.String("key", key), zap.Error(werr))
		}
	}
	return q, nil
}
