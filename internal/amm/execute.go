package amm

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// Fill is the outcome of an accepted buy order: the post-trade market and
// user, plus the records to append.
type Fill struct {
	Market domain.Market
	User   domain.User
	Bet    domain.Bet
	Entry  domain.LedgerEntry
	Point  domain.PricePoint
	Quote  QuoteResult
}

// ExecuteBuy applies a buy of amount shares of side by u against m. It never
// mutates its inputs: on error nothing has changed, on success the caller
// persists every field of the returned Fill as one atomic unit.
//
// Preconditions are checked in a fixed order so callers see a deterministic
// error: resolved market, amount, side, then funds.
func ExecuteBuy(m domain.Market, u domain.User, side domain.Side, amount float64, now time.Time) (Fill, error) {
	if m.Resolved {
		return Fill{}, fmt.Errorf("%w: market %s is resolved", domain.ErrMarketClosed, m.ID)
	}
	if !(amount > 0) {
		return Fill{}, fmt.Errorf("%w: %v shares", domain.ErrInvalidAmount, amount)
	}
	if !side.Valid() {
		return Fill{}, fmt.Errorf("%w: %q", domain.ErrInvalidSide, side)
	}

	q, err := Quote(StateOf(m), side, amount)
	if err != nil {
		return Fill{}, err
	}
	if u.Balance < q.Cost {
		return Fill{}, fmt.Errorf("%w: cost %.4f exceeds balance %.4f", domain.ErrInsufficientFunds, q.Cost, u.Balance)
	}

	m.YesShares = q.After.QYes
	m.NoShares = q.After.QNo
	u.Balance -= q.Cost

	bet := domain.Bet{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		MarketID:  m.ID,
		Side:      side,
		Amount:    amount,
		Price:     q.AvgPrice,
		TotalCost: q.Cost,
		CreatedAt: now,
	}
	entry := domain.LedgerEntry{
		ID:          uuid.NewString(),
		UserID:      u.ID,
		MarketID:    m.ID,
		Type:        domain.LedgerBet,
		Amount:      -q.Cost,
		Description: fmt.Sprintf("Bought %g %s shares in %s", amount, side, m.Title),
		CreatedAt:   now,
	}
	prices := Price(q.After)

	return Fill{
		Market: m,
		User:   u,
		Bet:    bet,
		Entry:  entry,
		Point: domain.PricePoint{
			MarketID:  m.ID,
			PriceYes:  prices.Yes,
			PriceNo:   prices.No,
			Timestamp: now,
		},
		Quote: q,
	}, nil
}
