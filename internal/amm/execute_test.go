package amm

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMarket(id string) domain.Market {
	return domain.Market{ID: id, Title: "Will it rain?", Liquidity: 100, CreatedAt: t0}
}

func newUser(id string, balance float64) domain.User {
	return domain.User{ID: id, Username: id, Balance: balance, CreatedAt: t0}
}

func TestExecuteBuy_Success(t *testing.T) {
	m := newMarket("m1")
	u := newUser("alice", 100)

	fill, err := ExecuteBuy(m, u, domain.SideYes, 10, t0)
	require.NoError(t, err)

	require.InDelta(t, 10, fill.Market.YesShares, 1e-12)
	require.Zero(t, fill.Market.NoShares)
	require.InDelta(t, 100-5.1249, fill.User.Balance, 1e-3)

	require.Equal(t, "alice", fill.Bet.UserID)
	require.Equal(t, "m1", fill.Bet.MarketID)
	require.Equal(t, domain.SideYes, fill.Bet.Side)
	require.InDelta(t, fill.Quote.Cost, fill.Bet.TotalCost, 1e-12)
	require.InDelta(t, fill.Bet.TotalCost/10, fill.Bet.Price, 1e-12)
	require.NotEmpty(t, fill.Bet.ID)

	require.Equal(t, domain.LedgerBet, fill.Entry.Type)
	require.InDelta(t, -fill.Bet.TotalCost, fill.Entry.Amount, 1e-12)
	require.InDelta(t, u.Balance+fill.Entry.Amount, fill.User.Balance, 1e-12)

	require.InDelta(t, 0.525, fill.Point.PriceYes, 1e-3)
	require.Equal(t, t0, fill.Point.Timestamp)

	// Inputs are values and stay untouched.
	require.Zero(t, m.YesShares)
	require.Equal(t, 100.0, u.Balance)
}

func TestExecuteBuy_InsufficientFunds(t *testing.T) {
	m := newMarket("m1")
	u := newUser("bob", 5)

	q, err := Quote(StateOf(m), domain.SideYes, 14)
	require.NoError(t, err)
	require.Greater(t, q.Cost, 7.0)

	_, err = ExecuteBuy(m, u, domain.SideYes, 14, t0)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestExecuteBuy_ExactBalanceAccepted(t *testing.T) {
	m := newMarket("m1")
	q, err := Quote(StateOf(m), domain.SideNo, 3)
	require.NoError(t, err)

	fill, err := ExecuteBuy(m, newUser("carol", q.Cost), domain.SideNo, 3, t0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, fill.User.Balance, 0.0)
	require.InDelta(t, 0, fill.User.Balance, 1e-12)
}

func TestExecuteBuy_PreconditionOrder(t *testing.T) {
	resolved := newMarket("m1")
	yes := domain.SideYes
	resolved.Resolved = true
	resolved.Outcome = &yes

	tests := []struct {
		name   string
		market domain.Market
		side   domain.Side
		amount float64
		want   error
	}{
		{"resolved beats everything", resolved, domain.Side("x"), -1, domain.ErrMarketClosed},
		{"amount before side", newMarket("m2"), domain.Side("x"), 0, domain.ErrInvalidAmount},
		{"nan amount", newMarket("m2"), domain.SideYes, math.NaN(), domain.ErrInvalidAmount},
		{"side before funds", newMarket("m2"), domain.Side("x"), 1e6, domain.ErrInvalidSide},
		{"funds", newMarket("m2"), domain.SideYes, 1e6, domain.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExecuteBuy(tt.market, newUser("dave", 1), tt.side, tt.amount, t0)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExecuteBuy_InvalidLiquidity(t *testing.T) {
	m := newMarket("m1")
	m.Liquidity = 0
	_, err := ExecuteBuy(m, newUser("erin", 100), domain.SideYes, 1, t0)
	require.ErrorIs(t, err, domain.ErrInvalidLiquidity)
}

func TestExecuteBuy_ConservesMoney(t *testing.T) {
	m := newMarket("m1")
	users := map[string]domain.User{
		"a": newUser("a", 100),
		"b": newUser("b", 100),
	}
	trades := []struct {
		user   string
		side   domain.Side
		amount float64
	}{
		{"a", domain.SideYes, 10},
		{"b", domain.SideNo, 25},
		{"a", domain.SideNo, 3},
		{"b", domain.SideYes, 40},
	}

	var spent float64
	for _, tr := range trades {
		fill, err := ExecuteBuy(m, users[tr.user], tr.side, tr.amount, t0)
		require.NoError(t, err)
		spent += fill.Bet.TotalCost
		m = fill.Market
		users[tr.user] = fill.User
	}

	// Money collected by the market maker equals the change in its cost
	// function from the empty state.
	require.InDelta(t, Cost(StateOf(m))-Cost(State{B: 100}), spent, 1e-9)
	require.InDelta(t, 200-spent, users["a"].Balance+users["b"].Balance, 1e-9)
}
