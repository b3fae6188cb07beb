// Package amm implements the automated market maker behind every binary
// market: logarithmic market scoring rule (LMSR) pricing, the buy-order state
// transition, and resolution payouts. Functions in this package are pure;
// locking and persistence belong to the caller (see internal/service).
package amm

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// State is the tuple the market maker prices from.
type State struct {
	B    float64 // liquidity parameter, > 0
	QYes float64 // outstanding YES shares
	QNo  float64 // outstanding NO shares
}

// StateOf extracts the pricing state of m.
func StateOf(m domain.Market) State {
	return State{B: m.Liquidity, QYes: m.YesShares, QNo: m.NoShares}
}

// Shares returns the outstanding quantity for side.
func (s State) Shares(side domain.Side) float64 {
	if side == domain.SideYes {
		return s.QYes
	}
	return s.QNo
}

// With returns s after amount more shares of side have been sold.
func (s State) With(side domain.Side, amount float64) State {
	if side == domain.SideYes {
		s.QYes += amount
	} else {
		s.QNo += amount
	}
	return s
}

// Prices holds the marginal price of each side. Yes + No == 1.
type Prices struct {
	Yes float64 `json:"yes"`
	No  float64 `json:"no"`
}

// Of returns the price of side.
func (p Prices) Of(side domain.Side) float64 {
	if side == domain.SideYes {
		return p.Yes
	}
	return p.No
}

// Cost evaluates C(q) = b * ln(exp(q_yes/b) + exp(q_no/b)) using the
// log-sum-exp identity so large share counts do not overflow.
func Cost(s State) float64 {
	return s.B * logSumExp(s.QYes/s.B, s.QNo/s.B)
}

// Price returns the marginal prices for s. It is total: a state without a
// positive liquidity parameter has no defined curve and prices at 0.5/0.5.
func Price(s State) Prices {
	if !(s.B > 0) {
		return Prices{Yes: 0.5, No: 0.5}
	}
	yes := sigmoid((s.QYes - s.QNo) / s.B)
	return Prices{Yes: yes, No: 1 - yes}
}

// QuoteResult describes the cost of buying Amount shares of Side from a
// given state, without changing anything.
type QuoteResult struct {
	Side        domain.Side
	Amount      float64
	Cost        float64
	AvgPrice    float64 // Cost / Amount
	PriceBefore float64 // marginal price of Side before the trade
	PriceAfter  float64 // marginal price of Side after the trade
	After       State
}

// Quote computes the cost of buying amount shares of side:
// C(q + amount*e_side) - C(q). Every trade fills in full against the curve.
func Quote(s State, side domain.Side, amount float64) (QuoteResult, error) {
	if !(s.B > 0) || math.IsInf(s.B, 0) {
		return QuoteResult{}, fmt.Errorf("%w: b=%v", domain.ErrInvalidLiquidity, s.B)
	}
	if !side.Valid() {
		return QuoteResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidSide, side)
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return QuoteResult{}, fmt.Errorf("%w: %v shares", domain.ErrInvalidAmount, amount)
	}

	cost := tradeCost(s, side, amount)
	if math.IsInf(cost, 0) || math.IsNaN(cost) {
		return QuoteResult{}, fmt.Errorf("%w: %v shares is too large for b=%v", domain.ErrInvalidAmount, amount, s.B)
	}

	after := s.With(side, amount)
	return QuoteResult{
		Side:        side,
		Amount:      amount,
		Cost:        cost,
		AvgPrice:    cost / amount,
		PriceBefore: Price(s).Of(side),
		PriceAfter:  Price(after).Of(side),
		After:       after,
	}, nil
}

// tradeCost evaluates C(q') - C(q) without subtracting two large numbers.
// With p the pre-trade price of side and x = amount/b:
//
//	C(q') - C(q) = b * ln(1 + p*(e^x - 1))
//
// which is rewritten in log space once e^x or p leave float range.
func tradeCost(s State, side domain.Side, amount float64) float64 {
	x := amount / s.B
	d := (s.Shares(side) - s.Shares(side.Opposite())) / s.B
	p := sigmoid(d)

	var cost float64
	if x < 700 && p > 0 {
		cost = s.B * math.Log1p(p*math.Expm1(x))
	} else {
		cost = s.B * logSumExp(logSigmoid(d)+x, logSigmoid(-d))
	}

	// A strictly positive debit even when the exact value underflows.
	if cost <= 0 {
		cost = math.SmallestNonzeroFloat64
	}
	return cost
}

func logSumExp(x, y float64) float64 {
	m := math.Max(x, y)
	if math.IsInf(m, 0) {
		return m
	}
	return m + math.Log1p(math.Exp(-math.Abs(x-y)))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// logSigmoid returns ln(sigmoid(x)).
func logSigmoid(x float64) float64 {
	if x >= 0 {
		return -math.Log1p(math.Exp(-x))
	}
	return x - math.Log1p(math.Exp(x))
}
