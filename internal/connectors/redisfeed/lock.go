package redisfeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/djstevess/arb-bot/internal/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// deletes the key only while it still holds our token
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Lock is a cross-process trade slot: at most one bot sharing the Redis prefix has a
// trade in flight. It satisfies execution.Guard.
type Lock struct {
	rdb    redis.UniversalClient
	key    string
	ttl    time.Duration
	unlock *redis.Script
}

// NewLock holds the slot for at most ttl; pick it longer than the confirmation timeout.
func NewLock(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Lock {
	return &Lock{
		rdb:    rdb,
		key:    prefix + keyLock,
		ttl:    ttl,
		unlock: redis.NewScript(unlockLua),
	}
}

func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, types.ErrTradeInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be gone
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.unlock.Run(uctx, l.rdb, []string{l.key}, token).Err()
		})
	}, nil
}
