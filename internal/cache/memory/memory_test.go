package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

func TestSignalBus_PublishSubscribe(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	exact, err := bus.Subscribe(ctx, domain.ChannelTrades)
	require.NoError(t, err)
	glob, err := bus.Subscribe(ctx, "*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte("t1")))
	require.NoError(t, bus.Publish(ctx, domain.ChannelResolutions, []byte("r1")))

	require.Equal(t, []byte("t1"), <-exact)
	require.Equal(t, []byte("t1"), <-glob)
	require.Equal(t, []byte("r1"), <-glob)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-exact
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestSignalBus_Streams(t *testing.T) {
	bus := NewSignalBus()
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamEvents, []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, domain.StreamEvents, "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, []byte("a"), msgs[0].Payload)

	msgs, err = bus.StreamRead(ctx, domain.StreamEvents, msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, []byte("c"), msgs[0].Payload)

	msgs, err = bus.StreamRead(ctx, domain.StreamEvents, "$", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMarketCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMarketCache(time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, domain.Market{ID: "m1"}))
	m, err := c.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "m1", m.ID)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "m1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.Set(ctx, domain.Market{ID: "m1"}))
	require.NoError(t, c.Invalidate(ctx, "m1"))
	_, err = c.Get(ctx, "m1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketCache_SetKeepsNewerSnapshot(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMarketCache(time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, domain.Market{ID: "m1", YesShares: 10}))
	require.NoError(t, c.Set(ctx, domain.Market{ID: "m1"}))
	m, err := c.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 10.0, m.YesShares)

	outcome := domain.SideNo
	require.NoError(t, c.Set(ctx, domain.Market{ID: "m1", YesShares: 10, Resolved: true, Outcome: &outcome}))
	require.NoError(t, c.Set(ctx, domain.Market{ID: "m1", YesShares: 10}))
	m, err = c.Get(ctx, "m1")
	require.NoError(t, err)
	require.True(t, m.Resolved)

	// Once the entry expires any snapshot may take its place.
	now = now.Add(2 * time.Minute)
	require.NoError(t, c.Set(ctx, domain.Market{ID: "m1", YesShares: 3}))
	m, err = c.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 3.0, m.YesShares)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip", 3, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "ip", 3, time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = rl.Allow(ctx, "other", 3, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, err = rl.Allow(ctx, "ip", 3, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}
