package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is one of the two outcomes of a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ParseSide accepts "yes"/"no" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// DefaultLiquidity is used when a market is created without a positive b.
const DefaultLiquidity = 100.0

// Market is a binary prediction market priced by the LMSR market maker.
// Liquidity is fixed at creation. YesShares and NoShares only grow, and are
// frozen once Resolved is set.
type Market struct {
	ID          string
	Title       string
	Description string
	Liquidity   float64
	YesShares   float64
	NoShares    float64
	Resolved    bool
	Outcome     *Side
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	ResolvedAt  *time.Time
}

// Supersedes reports whether m is at least as recent as old. Share counts
// never shrink and resolution is one-way, so a snapshot that has fewer
// shares on either side, or is unresolved while old is resolved, is older.
func (m Market) Supersedes(old Market) bool {
	return m.YesShares >= old.YesShares &&
		m.NoShares >= old.NoShares &&
		(m.Resolved || !old.Resolved)
}

// Expired reports whether the market has an expiry at or before now.
func (m Market) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Open reports whether the market accepts trades at now.
func (m Market) Open(now time.Time) bool {
	return !m.Resolved && !m.Expired(now)
}

// PricePoint is one sample of a market's marginal prices, recorded after
// every accepted trade.
type PricePoint struct {
	MarketID  string
	PriceYes  float64
	PriceNo   float64
	Timestamp time.Time
}
