package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lmsrmarket/internal/amm"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/service"
)

// Money and share quantities leave the API as fixed-point decimal strings so
// clients never see binary float artifacts.
const (
	amountPlaces = 6
	pricePlaces  = 6
)

func amount(v float64) decimal.Decimal { return decimal.NewFromFloat(v).Round(amountPlaces) }

func price(v float64) decimal.Decimal { return decimal.NewFromFloat(v).Round(pricePlaces) }

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type createMarketRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=2000"`
	Liquidity   float64    `json:"liquidity"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type betRequest struct {
	UserID   string  `json:"user_id" validate:"required"`
	MarketID string  `json:"market_id" validate:"required"`
	Side     string  `json:"side" validate:"required"`
	Amount   float64 `json:"amount"`
}

type resolveRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

type marketResponse struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Liquidity   decimal.Decimal `json:"liquidity"`
	YesShares   decimal.Decimal `json:"yes_shares"`
	NoShares    decimal.Decimal `json:"no_shares"`
	PriceYes    decimal.Decimal `json:"price_yes"`
	PriceNo     decimal.Decimal `json:"price_no"`
	Open        bool            `json:"open"`
	Resolved    bool            `json:"resolved"`
	Outcome     *domain.Side    `json:"outcome,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

func newMarketResponse(v service.MarketView) marketResponse {
	m := v.Market
	return marketResponse{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Liquidity:   amount(m.Liquidity),
		YesShares:   amount(m.YesShares),
		NoShares:    amount(m.NoShares),
		PriceYes:    price(v.Prices.Yes),
		PriceNo:     price(v.Prices.No),
		Open:        v.Open,
		Resolved:    m.Resolved,
		Outcome:     m.Outcome,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		ResolvedAt:  m.ResolvedAt,
	}
}

type quoteResponse struct {
	MarketID    string          `json:"market_id"`
	Side        domain.Side     `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	Cost        decimal.Decimal `json:"cost"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	PriceBefore decimal.Decimal `json:"price_before"`
	PriceAfter  decimal.Decimal `json:"price_after"`
}

func newQuoteResponse(marketID string, q amm.QuoteResult) quoteResponse {
	return quoteResponse{
		MarketID:    marketID,
		Side:        q.Side,
		Amount:      amount(q.Amount),
		Cost:        amount(q.Cost),
		AvgPrice:    price(q.AvgPrice),
		PriceBefore: price(q.PriceBefore),
		PriceAfter:  price(q.PriceAfter),
	}
}

type pricePointResponse struct {
	PriceYes  decimal.Decimal `json:"price_yes"`
	PriceNo   decimal.Decimal `json:"price_no"`
	Timestamp time.Time       `json:"timestamp"`
}

type userResponse struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	Balance   decimal.Decimal `json:"balance"`
	LastLogin *time.Time      `json:"last_login,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func newUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Balance:   amount(u.Balance),
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
	}
}

type betResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	Side      domain.Side     `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	TotalCost decimal.Decimal `json:"total_cost"`
	CreatedAt time.Time       `json:"timestamp"`
}

func newBetResponse(b domain.Bet) betResponse {
	return betResponse{
		ID:        b.ID,
		UserID:    b.UserID,
		MarketID:  b.MarketID,
		Side:      b.Side,
		Amount:    amount(b.Amount),
		Price:     price(b.Price),
		TotalCost: amount(b.TotalCost),
		CreatedAt: b.CreatedAt,
	}
}

type fillResponse struct {
	Bet      betResponse     `json:"bet"`
	Balance  decimal.Decimal `json:"balance"`
	PriceYes decimal.Decimal `json:"price_yes"`
	PriceNo  decimal.Decimal `json:"price_no"`
}

type ledgerEntryResponse struct {
	ID          string            `json:"id"`
	MarketID    string            `json:"market_id,omitempty"`
	Type        domain.LedgerType `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
}

func newLedgerEntryResponse(e domain.LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:          e.ID,
		MarketID:    e.MarketID,
		Type:        e.Type,
		Amount:      amount(e.Amount),
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}
}

type positionResponse struct {
	MarketID  string          `json:"market_id"`
	YesShares decimal.Decimal `json:"yes_shares"`
	NoShares  decimal.Decimal `json:"no_shares"`
	Cost      decimal.Decimal `json:"cost"`
}

type payoutResponse struct {
	UserID string          `json:"user_id"`
	Shares decimal.Decimal `json:"shares"`
	Amount decimal.Decimal `json:"amount"`
}

type resolutionResponse struct {
	Market  marketResponse   `json:"market"`
	Payouts []payoutResponse `json:"payouts"`
	Total   decimal.Decimal  `json:"total"`
}

type bonusResponse struct {
	User  userResponse        `json:"user"`
	Entry ledgerEntryResponse `json:"entry"`
}
