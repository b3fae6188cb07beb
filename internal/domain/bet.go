package domain

import "time"

// Bet records one accepted buy order. It is never mutated after creation.
type Bet struct {
	ID        string
	UserID    string
	MarketID  string
	Side      Side
	Amount    float64 // shares purchased
	Price     float64 // average price per share, TotalCost / Amount
	TotalCost float64
	Voided    bool
	CreatedAt time.Time
}

// LedgerType classifies a balance movement.
type LedgerType string

const (
	LedgerSignup LedgerType = "SIGNUP"
	LedgerBet    LedgerType = "BET"
	LedgerPayout LedgerType = "PAYOUT"
	LedgerBonus  LedgerType = "BONUS"
)

// LedgerEntry is an append-only record of a change to a user's balance.
// Amount is signed: debits are negative.
type LedgerEntry struct {
	ID          string
	UserID      string
	MarketID    string // empty for entries not tied to a market
	Type        LedgerType
	Amount      float64
	Description string
	CreatedAt   time.Time
}
