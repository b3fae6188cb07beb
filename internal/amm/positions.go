package amm

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// Positions aggregates bets into one position per (user, market), sorted by
// market ID then user ID. Voided bets are skipped.
func Positions(bets []domain.Bet) []domain.Position {
	type key struct{ user, market string }
	agg := make(map[key]*domain.Position)
	for _, b := range bets {
		if b.Voided {
			continue
		}
		k := key{b.UserID, b.MarketID}
		p, ok := agg[k]
		if !ok {
			p = &domain.Position{UserID: b.UserID, MarketID: b.MarketID}
			agg[k] = p
		}
		addBet(p, b)
	}

	out := make([]domain.Position, 0, len(agg))
	for _, p := range agg {
		out = append(out, *p)
	}
	sortPositions(out)
	return out
}

func addBet(p *domain.Position, b domain.Bet) {
	if b.Side == domain.SideYes {
		p.YesShares += b.Amount
	} else {
		p.NoShares += b.Amount
	}
	p.Cost += b.TotalCost
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].MarketID != ps[j].MarketID {
			return ps[i].MarketID < ps[j].MarketID
		}
		return ps[i].UserID < ps[j].UserID
	})
}

// PositionBook is an in-memory materialization of user positions. It is a
// cache over the bet ledger: a user's book is filled by Rebuild from their
// bets and then kept current by Apply. Users never rebuilt are not tracked.
type PositionBook struct {
	mu    sync.RWMutex
	users map[string]map[string]*domain.Position // user -> market -> position
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{users: make(map[string]map[string]*domain.Position)}
}

// Rebuild replaces userID's positions with the aggregate of bets. Bets of
// other users are ignored.
func (pb *PositionBook) Rebuild(userID string, bets []domain.Bet) {
	own := make([]domain.Bet, 0, len(bets))
	for _, b := range bets {
		if b.UserID == userID {
			own = append(own, b)
		}
	}
	markets := make(map[string]*domain.Position)
	for _, p := range Positions(own) {
		p := p
		markets[p.MarketID] = &p
	}

	pb.mu.Lock()
	pb.users[userID] = markets
	pb.mu.Unlock()
}

// Apply folds an accepted bet into the book. Bets of untracked users are
// ignored; their positions are built on first read.
func (pb *PositionBook) Apply(b domain.Bet) {
	if b.Voided {
		return
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()

	markets, ok := pb.users[b.UserID]
	if !ok {
		return
	}
	p, ok := markets[b.MarketID]
	if !ok {
		p = &domain.Position{UserID: b.UserID, MarketID: b.MarketID}
		markets[b.MarketID] = p
	}
	addBet(p, b)
}

// Positions returns userID's positions sorted by market ID. The bool is
// false when the user is not tracked.
func (pb *PositionBook) Positions(userID string) ([]domain.Position, bool) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	markets, ok := pb.users[userID]
	if !ok {
		return nil, false
	}
	out := make([]domain.Position, 0, len(markets))
	for _, p := range markets {
		out = append(out, *p)
	}
	sortPositions(out)
	return out, true
}
