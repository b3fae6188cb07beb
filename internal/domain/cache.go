package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market lookups for read paths. It is never
// consulted inside a trade's critical section.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Locker grants exclusive access to a set of keys. Implementations must
// acquire keys in a canonical order so two callers locking overlapping sets
// cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// MarketLockKey and UserLockKey name the lock scopes used by trades and
// resolutions.
func MarketLockKey(id string) string { return "market:" + id }

func UserLockKey(id string) string { return "user:" + id }
