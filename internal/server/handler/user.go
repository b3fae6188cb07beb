package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// UserService defines what the user handler needs from the service layer.
type UserService interface {
	Register(ctx context.Context, username, password string) (domain.User, error)
	Authenticate(ctx context.Context, username, password string) (domain.User, error)
	Get(ctx context.Context, id string) (domain.User, error)
	Bets(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Bet, error)
	Ledger(ctx context.Context, id string, opts domain.ListOpts) ([]domain.LedgerEntry, error)
	Positions(ctx context.Context, id string) ([]domain.Position, error)
	ClaimBonus(ctx context.Context, id string) (domain.User, domain.LedgerEntry, error)
}

// UserHandler serves account endpoints.
type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// Register creates an account with the starting balance.
// POST /api/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	u, err := h.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(u))
}

// Login checks credentials and returns the account.
// POST /api/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	u, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

// GetUser returns a user and their balance.
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

// ListBets returns the user's bets, newest first.
// GET /api/users/{id}/bets
func (h *UserHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	bets, err := h.users.Bets(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]betResponse, 0, len(bets))
	for _, b := range bets {
		out = append(out, newBetResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListLedger returns the user's balance movements, newest first.
// GET /api/users/{id}/ledger
func (h *UserHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	entries, err := h.users.Ledger(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newLedgerEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListPositions returns the user's holdings per market.
// GET /api/users/{id}/positions
func (h *UserHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	ps, err := h.users.Positions(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]positionResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, positionResponse{
			MarketID:  p.MarketID,
			YesShares: amount(p.YesShares),
			NoShares:  amount(p.NoShares),
			Cost:      amount(p.Cost),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ClaimBonus credits the periodic bonus.
// POST /api/users/{id}/bonus
func (h *UserHandler) ClaimBonus(w http.ResponseWriter, r *http.Request) {
	u, e, err := h.users.ClaimBonus(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bonusResponse{
		User:  newUserResponse(u),
		Entry: newLedgerEntryResponse(e),
	})
}
