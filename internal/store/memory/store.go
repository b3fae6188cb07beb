// Package memory implements domain.Store in process memory. It is the default
// backend for development and the fixture for service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

var _ domain.Store = (*Store)(nil)

// Store keeps every table in maps guarded by a RWMutex. Transactions are
// serialized and stage their writes until commit.
type Store struct {
	txMu sync.Mutex // one writer transaction at a time

	mu        sync.RWMutex
	markets   map[string]domain.Market
	users     map[string]domain.User
	usernames map[string]string // lower(username) -> id
	bets      []domain.Bet
	ledger    []domain.LedgerEntry
	prices    map[string][]domain.PricePoint
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		markets:   make(map[string]domain.Market),
		users:     make(map[string]domain.User),
		usernames: make(map[string]string),
		prices:    make(map[string][]domain.PricePoint),
	}
}

// GetMarket returns the committed market with the given ID.
func (s *Store) GetMarket(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id, domain.ErrMarketNotFound)
	}
	return m, nil
}

// ListMarkets returns markets newest first.
func (s *Store) ListMarkets(_ context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	s.mu.RLock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if filter.Resolved != nil && m.Resolved != *filter.Resolved {
			continue
		}
		if !inWindow(m.CreatedAt, filter.ListOpts) {
			continue
		}
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.ListOpts), nil
}

// CreateMarket inserts m.
func (s *Store) CreateMarket(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: duplicate id", m.ID)
	}
	s.markets[m.ID] = m
	return nil
}

// GetUser returns the committed user with the given ID.
func (s *Store) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: get user %s: %w", id, domain.ErrUserNotFound)
	}
	return u, nil
}

// GetUserByUsername looks a user up case-insensitively.
func (s *Store) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[strings.ToLower(username)]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: get user %q: %w", username, domain.ErrUserNotFound)
	}
	return s.users[id], nil
}

// CreateUser inserts u and its opening ledger entry.
func (s *Store) CreateUser(_ context.Context, u domain.User, opening domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, taken := s.usernames[key]; taken {
		return fmt.Errorf("memory: create user %q: %w", u.Username, domain.ErrUsernameTaken)
	}
	s.users[u.ID] = u
	s.usernames[key] = u.ID
	s.ledger = append(s.ledger, opening)
	return nil
}

// TouchLogin records a successful login.
func (s *Store) TouchLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("memory: touch login %s: %w", id, domain.ErrUserNotFound)
	}
	u.LastLogin = &at
	s.users[id] = u
	return nil
}

// ListBetsByMarket returns every bet on marketID in insertion order.
func (s *Store) ListBetsByMarket(_ context.Context, marketID string) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return betsWhere(s.bets, func(b domain.Bet) bool { return b.MarketID == marketID }), nil
}

// ListBetsByUser returns userID's bets newest first.
func (s *Store) ListBetsByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	out := betsWhere(s.bets, func(b domain.Bet) bool {
		return b.UserID == userID && inWindow(b.CreatedAt, opts)
	})
	s.mu.RUnlock()
	reverse(out)
	return page(out, opts), nil
}

// ListLedger returns userID's ledger entries newest first.
func (s *Store) ListLedger(_ context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	var out []domain.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID && inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	reverse(out)
	return page(out, opts), nil
}

// ListPriceHistory returns marketID's price points oldest first.
func (s *Store) ListPriceHistory(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.PricePoint, error) {
	s.mu.RLock()
	var out []domain.PricePoint
	for _, p := range s.prices[marketID] {
		if inWindow(p.Timestamp, opts) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	return page(out, opts), nil
}

// InTx runs fn against a staging area and publishes its writes only if fn
// returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: begin tx: %w", err)
	}

	tx := &memTx{
		s:       s,
		markets: make(map[string]domain.Market),
		users:   make(map[string]domain.User),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func betsWhere(bets []domain.Bet, keep func(domain.Bet) bool) []domain.Bet {
	var out []domain.Bet
	for _, b := range bets {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
