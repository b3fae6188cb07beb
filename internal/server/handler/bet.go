package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lmsrmarket/internal/amm"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/service"
)

// Trader executes buy orders.
type Trader interface {
	Buy(ctx context.Context, in service.BuyInput) (amm.Fill, error)
}

// BetHandler serves the order entry endpoint.
type BetHandler struct {
	trader Trader
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(trader Trader, logger *slog.Logger) *BetHandler {
	return &BetHandler{trader: trader, logger: logger}
}

// PlaceBet buys shares at the market maker's price.
// POST /api/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req betRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	fill, err := h.trader.Buy(r.Context(), service.BuyInput{
		UserID:   req.UserID,
		MarketID: req.MarketID,
		Side:     side,
		Amount:   req.Amount,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, fillResponse{
		Bet:      newBetResponse(fill.Bet),
		Balance:  amount(fill.User.Balance),
		PriceYes: price(fill.Point.PriceYes),
		PriceNo:  price(fill.Point.PriceNo),
	})
}
