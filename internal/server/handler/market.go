package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/lmsrmarket/internal/amm"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Create(ctx context.Context, in service.CreateMarketInput) (domain.Market, error)
	View(ctx context.Context, id string) (service.MarketView, error)
	ListViews(ctx context.Context, filter domain.MarketFilter) ([]service.MarketView, error)
	History(ctx context.Context, id string, opts domain.ListOpts) ([]domain.PricePoint, error)
}

// Quoter prices hypothetical trades.
type Quoter interface {
	Quote(ctx context.Context, marketID string, side domain.Side, amount float64) (amm.QuoteResult, error)
}

// Resolver settles markets.
type Resolver interface {
	Resolve(ctx context.Context, marketID string, outcome domain.Side) (amm.Resolution, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets  MarketService
	quotes   Quoter
	resolver Resolver
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, quotes Quoter, resolver Resolver, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		quotes:   quotes,
		resolver: resolver,
		logger:   logger,
	}
}

// ListMarkets returns markets with their current prices, newest first.
// GET /api/markets?resolved=false&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	filter := domain.MarketFilter{ListOpts: opts}
	if v := r.URL.Query().Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, h.logger, errInvalidRequest)
			return
		}
		filter.Resolved = &resolved
	}

	views, err := h.markets.ListViews(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]marketResponse, 0, len(views))
	for _, v := range views {
		out = append(out, newMarketResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": out,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	v, err := h.markets.View(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketResponse(v))
}

// Quote prices a buy without executing it.
// GET /api/markets/{id}/quote?side=YES&amount=10
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	side, err := domain.ParseSide(r.URL.Query().Get("side"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	shares, err := strconv.ParseFloat(strings.TrimSpace(r.URL.Query().Get("amount")), 64)
	if err != nil {
		writeError(w, r, h.logger, domain.ErrInvalidAmount)
		return
	}

	q, err := h.quotes.Quote(r.Context(), id, side, shares)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(id, q))
}

// History returns the market's price history, oldest first.
// GET /api/markets/{id}/history?since=...&until=...
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	// History is charted whole unless a limit is asked for.
	if r.URL.Query().Get("limit") == "" {
		opts.Limit = 0
	}

	points, err := h.markets.History(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]pricePointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, pricePointResponse{
			PriceYes:  price(p.PriceYes),
			PriceNo:   price(p.PriceNo),
			Timestamp: p.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateMarket opens a new market.
// POST /api/admin/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	m, err := h.markets.Create(r.Context(), service.CreateMarketInput{
		Title:       req.Title,
		Description: req.Description,
		Liquidity:   req.Liquidity,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMarketResponse(service.MarketView{
		Market: m,
		Prices: amm.MarketPrices(m),
		Open:   true,
	}))
}

// Resolve settles a market and pays out winning shares.
// POST /api/admin/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	outcome := domain.Side(strings.ToUpper(strings.TrimSpace(req.Outcome)))

	res, err := h.resolver.Resolve(r.Context(), pathParam(r, "id"), outcome)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	payouts := make([]payoutResponse, 0, len(res.Payouts))
	for _, p := range res.Payouts {
		payouts = append(payouts, payoutResponse{
			UserID: p.UserID,
			Shares: amount(p.Shares),
			Amount: amount(p.Amount),
		})
	}
	writeJSON(w, http.StatusOK, resolutionResponse{
		Market: newMarketResponse(service.MarketView{
			Market: res.Market,
			Prices: amm.MarketPrices(res.Market),
		}),
		Payouts: payouts,
		Total:   amount(res.Total()),
	})
}
