package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	defaultLockTTL   = 10 * time.Second
	lockRetryInitial = 5 * time.Millisecond
	lockRetryMax     = 200 * time.Millisecond
)

// LockManager implements domain.Locker across processes using SET NX with a
// TTL and a Lua-based conditional unlock.
type LockManager struct {
	c        *Client
	rdb      *redis.Client
	unlockSc *redis.Script
	ttl      time.Duration
}

// NewLockManager creates a LockManager backed by the given Client. A zero
// ttl selects the default of ten seconds.
func NewLockManager(c *Client, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &LockManager{
		c:        c,
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		ttl:      ttl,
	}
}

// Acquire makes a single attempt at key. It returns domain.ErrLockHeld if
// someone else holds it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	return lm.unlocker(lk, token), nil
}

// Lock acquires every key in sorted order, retrying with backoff until ctx
// is done. On failure the keys already taken are released.
func (lm *LockManager) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := sortedUnique(keys)
	unlocks := make([]func(), 0, len(ordered))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, k := range ordered {
		unlock, err := lm.acquireWait(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (lm *LockManager) acquireWait(ctx context.Context, key string) (func(), error) {
	delay := lockRetryInitial
	for {
		unlock, err := lm.Acquire(ctx, key, lm.ttl)
		if err == nil {
			return unlock, nil
		}
		if !isLockHeld(err) {
			return nil, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		delay = nextDelay(delay)
	}
}

func (lm *LockManager) unlocker(lk, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(ctx, lm.rdb, []string{lk}, token).Err()
		})
	}
}

func isLockHeld(err error) bool {
	return errors.Is(err, domain.ErrLockHeld)
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > lockRetryMax {
		return lockRetryMax
	}
	return d
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ domain.Locker = (*LockManager)(nil)
