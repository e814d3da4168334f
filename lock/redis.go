package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// REDIS - distributed lock, one key per invoice
// =============================================================================

// releaseScript deletes the key only if it still carries our token, so a
// holder whose TTL expired cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures a Redis lock.
type RedisConfig struct {
	Prefix  string        // key prefix, e.g. "rentledger:lock:"
	TTL     time.Duration // lease on the key; must exceed the longest critical section
	Timeout time.Duration // max wait for a held key
	Retry   time.Duration // poll interval while waiting
}

// Redis implements a lease-based lock on top of SET NX PX.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	return &Redis{client: client, cfg: cfg}
}

// Lock polls SET NX until it wins, the timeout elapses, or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.cfg.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.cfg.Timeout)

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return r.unlocker(redisKey, token), nil
		}

		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}

		wait := time.NewTimer(r.cfg.Retry)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		case <-wait.C:
		}
	}
}

func (r *Redis) unlocker(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must run even when the request context is already done.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err()
		})
	}
}
