package amm

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// PayoutPerShare is what one winning share redeems for.
const PayoutPerShare = 1.0

// Payout is one user's settlement in a resolved market.
type Payout struct {
	UserID string
	Shares float64
	Amount float64
}

// Resolution is the result of settling a market.
type Resolution struct {
	Market  domain.Market
	Payouts []Payout // sorted by UserID
}

// Total is the sum of all payout amounts.
func (r Resolution) Total() float64 {
	var sum float64
	for _, p := range r.Payouts {
		sum += p.Amount
	}
	return sum
}

// Resolve settles m on outcome. bets is the market's full bet ledger; it is
// the sole source of winning holdings. m is returned resolved and its share
// quantities are left untouched.
func Resolve(m domain.Market, outcome domain.Side, bets []domain.Bet, now time.Time) (Resolution, error) {
	if m.Resolved {
		return Resolution{}, fmt.Errorf("%w: market %s", domain.ErrAlreadyResolved, m.ID)
	}
	if !outcome.Valid() {
		return Resolution{}, fmt.Errorf("%w: %q", domain.ErrInvalidOutcome, outcome)
	}

	holdings := Holdings(bets, m.ID, outcome)
	payouts := make([]Payout, 0, len(holdings))
	for userID, shares := range holdings {
		if shares <= 0 {
			continue
		}
		payouts = append(payouts, Payout{
			UserID: userID,
			Shares: shares,
			Amount: shares * PayoutPerShare,
		})
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].UserID < payouts[j].UserID })

	m.Resolved = true
	m.Outcome = &outcome
	m.ResolvedAt = &now
	return Resolution{Market: m, Payouts: payouts}, nil
}

// Holdings sums, per user, the shares of side bought in marketID. Voided
// bets and bets on other markets are ignored.
func Holdings(bets []domain.Bet, marketID string, side domain.Side) map[string]float64 {
	out := make(map[string]float64)
	for _, b := range bets {
		if b.Voided || b.MarketID != marketID || b.Side != side {
			continue
		}
		out[b.UserID] += b.Amount
	}
	return out
}

// Credit applies p to u and returns the PAYOUT ledger entry recording it.
func Credit(u domain.User, p Payout, m domain.Market, now time.Time) (domain.User, domain.LedgerEntry) {
	u.Balance += p.Amount
	outcome := ""
	if m.Outcome != nil {
		outcome = string(*m.Outcome)
	}
	return u, domain.LedgerEntry{
		ID:          uuid.NewString(),
		UserID:      u.ID,
		MarketID:    m.ID,
		Type:        domain.LedgerPayout,
		Amount:      p.Amount,
		Description: fmt.Sprintf("Payout for %g %s shares in %s", p.Shares, outcome, m.Title),
		CreatedAt:   now,
	}
}

// MarketPrices returns the prices to display for m. A resolved market is
// settled: the winning side is worth 1 and the losing side 0.
func MarketPrices(m domain.Market) Prices {
	if m.Resolved && m.Outcome != nil {
		if *m.Outcome == domain.SideYes {
			return Prices{Yes: 1, No: 0}
		}
		return Prices{Yes: 0, No: 1}
	}
	return Price(StateOf(m))
}
