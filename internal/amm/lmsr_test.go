package amm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

func TestPrice_FreshMarketIsEven(t *testing.T) {
	p := Price(State{B: 100})
	require.InDelta(t, 0.5, p.Yes, 1e-12)
	require.InDelta(t, 0.5, p.No, 1e-12)
}

func TestQuote_TenYesSharesAtB100(t *testing.T) {
	q, err := Quote(State{B: 100}, domain.SideYes, 10)
	require.NoError(t, err)

	// 100*ln(e^0.1 + 1) - 100*ln(2)
	require.InDelta(t, 5.1249, q.Cost, 1e-3)
	require.InDelta(t, q.Cost/10, q.AvgPrice, 1e-12)
	require.InDelta(t, 0.5, q.PriceBefore, 1e-12)
	require.InDelta(t, 0.525, q.PriceAfter, 1e-3)
	require.Equal(t, State{B: 100, QYes: 10}, q.After)
}

func TestQuote_MatchesCostDifference(t *testing.T) {
	s := State{B: 50, QYes: 30, QNo: 12}
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		q, err := Quote(s, side, 7.5)
		require.NoError(t, err)
		want := Cost(s.With(side, 7.5)) - Cost(s)
		require.InDelta(t, want, q.Cost, 1e-9, "side %s", side)
	}
}

func TestQuote_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		side   domain.Side
		amount float64
		want   error
	}{
		{"zero amount", State{B: 100}, domain.SideYes, 0, domain.ErrInvalidAmount},
		{"negative amount", State{B: 100}, domain.SideYes, -1, domain.ErrInvalidAmount},
		{"nan amount", State{B: 100}, domain.SideNo, math.NaN(), domain.ErrInvalidAmount},
		{"inf amount", State{B: 100}, domain.SideNo, math.Inf(1), domain.ErrInvalidAmount},
		{"bad side", State{B: 100}, domain.Side("MAYBE"), 1, domain.ErrInvalidSide},
		{"zero liquidity", State{B: 0}, domain.SideYes, 1, domain.ErrInvalidLiquidity},
		{"negative liquidity", State{B: -5}, domain.SideYes, 1, domain.ErrInvalidLiquidity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Quote(tt.state, tt.side, tt.amount)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPrice_LargeVolumesDoNotOverflow(t *testing.T) {
	s := State{B: 1, QYes: 5_000_000, QNo: 4_999_990}
	p := Price(s)
	require.False(t, math.IsNaN(p.Yes))
	require.InDelta(t, 1, p.Yes+p.No, 1e-12)
	require.Greater(t, p.Yes, p.No)

	c := Cost(s)
	require.False(t, math.IsInf(c, 0) || math.IsNaN(c))

	q, err := Quote(s, domain.SideNo, 1000)
	require.NoError(t, err)
	require.Greater(t, q.Cost, 0.0)
	require.False(t, math.IsInf(q.Cost, 0))
}

func TestQuote_HugeAmountStaysFinite(t *testing.T) {
	q, err := Quote(State{B: 1}, domain.SideYes, 10_000)
	require.NoError(t, err)
	// Buying far past the point where the price saturates costs about one
	// per share.
	require.InDelta(t, 10_000-math.Ln2, q.Cost, 1e-6)
}

func TestPrice_SumsToOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := State{
			B:    rapid.Float64Range(0.1, 1e4).Draw(t, "b"),
			QYes: rapid.Float64Range(0, 1e7).Draw(t, "qyes"),
			QNo:  rapid.Float64Range(0, 1e7).Draw(t, "qno"),
		}
		p := Price(s)
		if math.Abs(p.Yes+p.No-1) > 1e-12 {
			t.Fatalf("prices %v do not sum to 1", p)
		}
		if p.Yes < 0 || p.Yes > 1 {
			t.Fatalf("price_yes %v out of range", p.Yes)
		}
	})
}

func TestPrice_StrictlyInsideUnitInterval(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Float64Range(1, 1000).Draw(t, "b")
		s := State{
			B:    b,
			QYes: rapid.Float64Range(0, 20*b).Draw(t, "qyes"),
			QNo:  rapid.Float64Range(0, 20*b).Draw(t, "qno"),
		}
		p := Price(s)
		if !(p.Yes > 0 && p.Yes < 1 && p.No > 0 && p.No < 1) {
			t.Fatalf("prices %v not in (0,1)", p)
		}
	})
}

func TestPrice_MonotoneInOwnShares(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Float64Range(1, 1000).Draw(t, "b")
		s := State{
			B:    b,
			QYes: rapid.Float64Range(0, 10*b).Draw(t, "qyes"),
			QNo:  rapid.Float64Range(0, 10*b).Draw(t, "qno"),
		}
		delta := rapid.Float64Range(0.01*b, b).Draw(t, "delta")

		before := Price(s)
		afterYes := Price(s.With(domain.SideYes, delta))
		if !(afterYes.Yes > before.Yes) {
			t.Fatalf("price_yes did not rise: %v -> %v", before.Yes, afterYes.Yes)
		}
		if !(afterYes.No < before.No) {
			t.Fatalf("price_no did not fall: %v -> %v", before.No, afterYes.No)
		}
	})
}

func TestQuote_CostPositiveAndIncreasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Float64Range(1, 1000).Draw(t, "b")
		s := State{
			B:    b,
			QYes: rapid.Float64Range(0, 10*b).Draw(t, "qyes"),
			QNo:  rapid.Float64Range(0, 10*b).Draw(t, "qno"),
		}
		side := rapid.SampledFrom([]domain.Side{domain.SideYes, domain.SideNo}).Draw(t, "side")
		small := rapid.Float64Range(0.01, 5*b).Draw(t, "amount")
		large := small + rapid.Float64Range(0.01*b, b).Draw(t, "extra")

		q1, err := Quote(s, side, small)
		if err != nil {
			t.Fatal(err)
		}
		q2, err := Quote(s, side, large)
		if err != nil {
			t.Fatal(err)
		}
		if !(q1.Cost > 0) {
			t.Fatalf("cost %v not positive", q1.Cost)
		}
		if !(q2.Cost > q1.Cost) {
			t.Fatalf("cost not increasing: %v for %v, %v for %v", q1.Cost, small, q2.Cost, large)
		}
		// The average fill price lies between the marginal prices.
		if q1.AvgPrice < q1.PriceBefore-1e-9 || q1.AvgPrice > q1.PriceAfter+1e-9 {
			t.Fatalf("avg %v outside [%v, %v]", q1.AvgPrice, q1.PriceBefore, q1.PriceAfter)
		}
	})
}

func TestQuote_PathIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Float64Range(10, 500).Draw(t, "b")
		s := State{B: b}
		a1 := rapid.Float64Range(0.1, b).Draw(t, "a1")
		a2 := rapid.Float64Range(0.1, b).Draw(t, "a2")

		first, err := Quote(s, domain.SideYes, a1)
		if err != nil {
			t.Fatal(err)
		}
		second, err := Quote(first.After, domain.SideYes, a2)
		if err != nil {
			t.Fatal(err)
		}
		whole, err := Quote(s, domain.SideYes, a1+a2)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(first.Cost+second.Cost-whole.Cost) > 1e-6*whole.Cost {
			t.Fatalf("split %v+%v != whole %v", first.Cost, second.Cost, whole.Cost)
		}
	})
}
