package amm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

func TestPositions_Aggregates(t *testing.T) {
	bets := []domain.Bet{
		{UserID: "u1", MarketID: "m2", Side: domain.SideYes, Amount: 1, TotalCost: 0.5},
		{UserID: "u1", MarketID: "m1", Side: domain.SideNo, Amount: 2, TotalCost: 1.1},
		{UserID: "u1", MarketID: "m1", Side: domain.SideYes, Amount: 3, TotalCost: 1.4},
		{UserID: "u1", MarketID: "m1", Side: domain.SideYes, Amount: 9, TotalCost: 4, Voided: true},
	}
	got := Positions(bets)
	require.Equal(t, []domain.Position{
		{UserID: "u1", MarketID: "m1", YesShares: 3, NoShares: 2, Cost: 2.5},
		{UserID: "u1", MarketID: "m2", YesShares: 1, Cost: 0.5},
	}, got)
}

func TestPositionBook_RebuildThenApply(t *testing.T) {
	pb := NewPositionBook()

	_, ok := pb.Positions("u1")
	require.False(t, ok)

	// Untracked users are ignored until rebuilt.
	pb.Apply(domain.Bet{UserID: "u1", MarketID: "m1", Side: domain.SideYes, Amount: 100})
	_, ok = pb.Positions("u1")
	require.False(t, ok)

	pb.Rebuild("u1", []domain.Bet{
		{UserID: "u1", MarketID: "m1", Side: domain.SideYes, Amount: 4, TotalCost: 2},
		{UserID: "u2", MarketID: "m1", Side: domain.SideYes, Amount: 8, TotalCost: 4},
	})
	pb.Apply(domain.Bet{UserID: "u1", MarketID: "m1", Side: domain.SideNo, Amount: 1, TotalCost: 0.4})
	pb.Apply(domain.Bet{UserID: "u1", MarketID: "m3", Side: domain.SideYes, Amount: 2, TotalCost: 1})

	got, ok := pb.Positions("u1")
	require.True(t, ok)
	require.Equal(t, []domain.Position{
		{UserID: "u1", MarketID: "m1", YesShares: 4, NoShares: 1, Cost: 2.4},
		{UserID: "u1", MarketID: "m3", YesShares: 2, Cost: 1},
	}, got)

	_, ok = pb.Positions("u2")
	require.False(t, ok)
}

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, domain.UserLockKey("u"), domain.MarketLockKey("m"))
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
	require.Empty(t, l.slots)
}

func TestKeyedLocker_DisjointKeysDoNotBlock(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "market:a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "market:b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on an unrelated key blocked")
	}
}

func TestKeyedLocker_ContextCancelReleasesPartialSet(t *testing.T) {
	l := NewKeyedLocker()

	unlock, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "b", "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// "a" was acquired first and must have been released.
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlockA()

	unlock()
	unlock() // idempotent
	require.Empty(t, l.slots)
}

func TestKeyedLocker_DuplicateKeys(t *testing.T) {
	l := NewKeyedLocker()
	unlock, err := l.Lock(context.Background(), "k", "k")
	require.NoError(t, err)
	unlock()
	require.Empty(t, l.slots)
}
