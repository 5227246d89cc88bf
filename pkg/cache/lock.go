package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a best-effort single-holder lease stored in Redis.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewLock builds a lease for key. A nil client yields a lock that is always acquired.
func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lock{client: client, key: key, ttl: ttl}
}

// TryAcquire attempts to take the lease. The returned release func is never nil.
func (l *Lock) TryAcquire(ctx context.Context) (bool, func(context.Context), error) {
	noop := func(context.Context) {}
	if l == nil || l.client == nil {
		return true, noop, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, noop, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return false, noop, nil
	}
	release := func(releaseCtx context.Context) {
		_ = releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err()
	}
	return true, release, nil
}
