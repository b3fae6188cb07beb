package domain

import "errors"

// Market maker errors. Every one of them is detected before any state is
// mutated, so callers never need to roll anything back.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidSide       = errors.New("invalid side")
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrInvalidLiquidity  = errors.New("invalid liquidity")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMarketClosed      = errors.New("market closed")
	ErrAlreadyResolved   = errors.New("market already resolved")
)

// Collaborator errors, raised while locating or validating records.
var (
	ErrNotFound           = errors.New("not found")
	ErrMarketNotFound     = errors.New("market not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidMarket      = errors.New("invalid market parameters")
	ErrBonusNotReady      = errors.New("bonus not available yet")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
)

// ErrorKind returns a stable, machine readable name for a domain error. It
// returns "internal" for anything that is not part of the taxonomy.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidSide):
		return "invalid_side"
	case errors.Is(err, ErrInvalidOutcome):
		return "invalid_outcome"
	case errors.Is(err, ErrInvalidLiquidity):
		return "invalid_liquidity"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrMarketNotFound):
		return "market_not_found"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUsernameTaken):
		return "username_taken"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidMarket):
		return "invalid_market"
	case errors.Is(err, ErrBonusNotReady):
		return "bonus_not_ready"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrLockHeld):
		return "busy"
	default:
		return "internal"
	}
}
