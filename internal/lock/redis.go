package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockHeld is returned by TryLock when another holder owns the key.
	ErrLockHeld = errors.New("lock: held by another owner")

	// ErrLockLost is returned by unlock when the lease expired while held.
	ErrLockLost = errors.New("lock: lease expired before release")
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Redis is a Locker shared across ledger instances, built on SETNX with a
// TTL and a Lua-based conditional unlock.
type Redis struct {
	rdb      redis.UniversalClient
	unlockSc *redis.Script
	ttl      time.Duration
	retry    time.Duration
}

// NewRedis creates a distributed locker. ttl bounds how long a crashed holder
// can keep a challenge locked; retry is the polling interval while waiting.
// The lease is not renewed, so ttl must exceed the longest time a holder
// spends in the store. A holder that overruns it gets ErrLockLost from
// unlock.
func NewRedis(rdb redis.UniversalClient, ttl, retry time.Duration) *Redis {
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}
	return &Redis{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		ttl:      ttl,
		retry:    retry,
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// TryLock makes a single acquisition attempt.
func (r *Redis) TryLock(ctx context.Context, key string) (func() error, error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := r.rdb.SetNX(ctx, lk, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var (
		once sync.Once
		uerr error
	)
	return func() error {
		once.Do(func() {
			// Background context so unlock succeeds even if the caller's
			// context is already cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			n, err := r.unlockSc.Run(unlockCtx, r.rdb, []string{lk}, token).Int64()
			switch {
			case err != nil:
				uerr = fmt.Errorf("redis: release lock %s: %w", key, err)
			case n == 0:
				uerr = fmt.Errorf("%s: %w", key, ErrLockLost)
			}
		})
		return uerr
	}, nil
}

// Lock polls TryLock until it succeeds or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func() error, error) {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		unlock, err := r.TryLock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Compile-time interface check.
var _ Locker = (*Redis)(nil)
