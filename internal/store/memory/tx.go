package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// memTx stages writes over the committed tables. Reads see the staged
// version of a row when there is one.
type memTx struct {
	s *Store

	markets map[string]domain.Market
	users   map[string]domain.User
	bets    []domain.Bet
	ledger  []domain.LedgerEntry
	prices  []domain.PricePoint
}

func (tx *memTx) MarketForUpdate(_ context.Context, id string) (domain.Market, error) {
	if m, ok := tx.markets[id]; ok {
		return m, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	m, ok := tx.s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market for update %s: %w", id, domain.ErrMarketNotFound)
	}
	return m, nil
}

func (tx *memTx) UserForUpdate(_ context.Context, id string) (domain.User, error) {
	if u, ok := tx.users[id]; ok {
		return u, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	u, ok := tx.s.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: user for update %s: %w", id, domain.ErrUserNotFound)
	}
	return u, nil
}

func (tx *memTx) BetsByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	committed, err := tx.s.ListBetsByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	for _, b := range tx.bets {
		if b.MarketID == marketID {
			committed = append(committed, b)
		}
	}
	return committed, nil
}

func (tx *memTx) SaveMarketShares(ctx context.Context, m domain.Market) error {
	cur, err := tx.MarketForUpdate(ctx, m.ID)
	if err != nil {
		return err
	}
	if cur.Resolved {
		return fmt.Errorf("memory: save market %s: %w", m.ID, domain.ErrMarketClosed)
	}
	cur.YesShares = m.YesShares
	cur.NoShares = m.NoShares
	tx.markets[m.ID] = cur
	return nil
}

func (tx *memTx) ResolveMarket(ctx context.Context, m domain.Market) error {
	cur, err := tx.MarketForUpdate(ctx, m.ID)
	if err != nil {
		return err
	}
	if cur.Resolved {
		return fmt.Errorf("memory: resolve market %s: %w", m.ID, domain.ErrAlreadyResolved)
	}
	cur.Resolved = true
	cur.Outcome = m.Outcome
	cur.ResolvedAt = m.ResolvedAt
	tx.markets[m.ID] = cur
	return nil
}

func (tx *memTx) SaveUser(ctx context.Context, u domain.User) error {
	if _, err := tx.UserForUpdate(ctx, u.ID); err != nil {
		return err
	}
	if u.Balance < 0 {
		return fmt.Errorf("memory: save user %s: %w: balance %v", u.ID, domain.ErrInsufficientFunds, u.Balance)
	}
	tx.users[u.ID] = u
	return nil
}

func (tx *memTx) InsertBet(_ context.Context, b domain.Bet) error {
	tx.bets = append(tx.bets, b)
	return nil
}

func (tx *memTx) AppendLedger(_ context.Context, e domain.LedgerEntry) error {
	tx.ledger = append(tx.ledger, e)
	return nil
}

func (tx *memTx) AppendPricePoint(_ context.Context, p domain.PricePoint) error {
	tx.prices = append(tx.prices, p)
	return nil
}

func (tx *memTx) commit() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range tx.markets {
		s.markets[id] = m
	}
	// Only the columns SaveUser owns are copied, so a login recorded while
	// the transaction was open survives.
	for id, u := range tx.users {
		cur := s.users[id]
		cur.Balance = u.Balance
		cur.LastBonusClaim = u.LastBonusClaim
		s.users[id] = cur
	}
	s.bets = append(s.bets, tx.bets...)
	s.ledger = append(s.ledger, tx.ledger...)
	for _, p := range tx.prices {
		s.prices[p.MarketID] = append(s.prices[p.MarketID], p)
	}
}
