package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketFilter narrows market listings.
type MarketFilter struct {
	Resolved *bool
	ListOpts
}

// Store is the persistence boundary. Reads outside InTx see committed data
// only. Writes happen exclusively through a Tx.
type Store interface {
	GetMarket(ctx context.Context, id string) (Market, error)
	ListMarkets(ctx context.Context, filter MarketFilter) ([]Market, error)
	CreateMarket(ctx context.Context, m Market) error

	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	// CreateUser inserts the user together with its opening ledger entry.
	CreateUser(ctx context.Context, u User, opening LedgerEntry) error
	TouchLogin(ctx context.Context, id string, at time.Time) error

	ListBetsByMarket(ctx context.Context, marketID string) ([]Bet, error)
	ListBetsByUser(ctx context.Context, userID string, opts ListOpts) ([]Bet, error)
	ListLedger(ctx context.Context, userID string, opts ListOpts) ([]LedgerEntry, error)
	ListPriceHistory(ctx context.Context, marketID string, opts ListOpts) ([]PricePoint, error)

	// InTx runs fn inside a single atomic unit. If fn returns an error no
	// write performed through tx becomes visible.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a Store transaction. The ForUpdate reads take row
// locks where the backend supports them.
type Tx interface {
	MarketForUpdate(ctx context.Context, id string) (Market, error)
	UserForUpdate(ctx context.Context, id string) (User, error)
	BetsByMarket(ctx context.Context, marketID string) ([]Bet, error)

	SaveMarketShares(ctx context.Context, m Market) error
	// ResolveMarket flips resolved from false to true. It returns
	// ErrAlreadyResolved if another writer got there first.
	ResolveMarket(ctx context.Context, m Market) error
	SaveUser(ctx context.Context, u User) error
	InsertBet(ctx context.Context, b Bet) error
	AppendLedger(ctx context.Context, e LedgerEntry) error
	AppendPricePoint(ctx context.Context, p PricePoint) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
