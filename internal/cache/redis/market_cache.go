package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

const (
	defaultMarketTTL = 30 * time.Second
	setMaxAttempts   = 3
)

// MarketCache implements domain.MarketCache with one JSON string per market
// under {prefix}:market:{id}. Trades and resolutions write their committed
// state through; the TTL only bounds staleness from other writers.
type MarketCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A zero
// ttl selects the default.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, rdb: c.Underlying(), ttl: ttl}
}

// Set stores m unless the cached entry is a newer snapshot. The compare
// and write run in a WATCH transaction so a slow reader cannot overwrite
// the state a trade just published.
func (mc *MarketCache) Set(ctx context.Context, m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", m.ID, err)
	}
	key := mc.c.Key("market", m.ID)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cached domain.Market
			if json.Unmarshal(cur, &cached) == nil && !m.Supersedes(cached) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, mc.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < setMaxAttempts; i++ {
		err := mc.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis: set market %s: %w", m.ID, err)
		}
		return nil
	}
	return fmt.Errorf("redis: set market %s: %w", m.ID, redis.TxFailedErr)
}

// Get returns the cached market or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, mc.c.Key("market", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return m, nil
}

// Invalidate removes a market from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	if err := mc.rdb.Del(ctx, mc.c.Key("market", id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
