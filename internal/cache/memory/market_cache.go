package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

var _ domain.MarketCache = (*MarketCache)(nil)

// MarketCache is a TTL map of markets.
type MarketCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cachedMarket
	now     func() time.Time
}

type cachedMarket struct {
	market  domain.Market
	expires time.Time
}

// NewMarketCache creates a cache whose entries live for ttl.
func NewMarketCache(ttl time.Duration) *MarketCache {
	return &MarketCache{ttl: ttl, entries: make(map[string]cachedMarket), now: time.Now}
}

// Set stores m unless a live entry already holds a newer snapshot.
func (c *MarketCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if cur, ok := c.entries[m.ID]; ok && now.Before(cur.expires) && !m.Supersedes(cur.market) {
		return nil
	}
	c.entries[m.ID] = cachedMarket{market: m, expires: now.Add(c.ttl)}
	return nil
}

func (c *MarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return domain.Market{}, domain.ErrNotFound
	}
	return e.market, nil
}

func (c *MarketCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}
