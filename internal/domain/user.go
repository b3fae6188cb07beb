package domain

import "time"

// DefaultStartingBalance is credited to every new user.
const DefaultStartingBalance = 100.0

// User owns a cash balance. Balance never goes negative.
type User struct {
	ID             string
	Username       string
	PasswordHash   string
	Balance        float64
	LastBonusClaim *time.Time
	LastLogin      *time.Time
	CreatedAt      time.Time
}

// Position is a user's aggregate holding in one market, derived from bets.
type Position struct {
	UserID    string
	MarketID  string
	YesShares float64
	NoShares  float64
	Cost      float64
}

// Shares returns the holding on side.
func (p Position) Shares(side Side) float64 {
	if side == SideYes {
		return p.YesShares
	}
	return p.NoShares
}
