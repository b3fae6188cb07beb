package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/alanyoungcy/lmsrmarket/internal/amm"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// BonusPolicy controls the periodic balance top-up users may claim.
type BonusPolicy struct {
	Amount   float64
	Interval time.Duration
}

// DefaultBonusPolicy grants 10 units once a day.
var DefaultBonusPolicy = BonusPolicy{Amount: 10, Interval: 24 * time.Hour}

// UserService manages accounts, balances, and position queries.
type UserService struct {
	store           domain.Store
	locker          domain.Locker
	positions       *amm.PositionBook
	audit           domain.AuditStore
	bonus           BonusPolicy
	startingBalance float64
	hashCost        int
	logger          *slog.Logger
	now             func() time.Time
}

// NewUserService creates a UserService. audit may be nil. A starting
// balance of zero or less selects domain.DefaultStartingBalance.
func NewUserService(
	store domain.Store,
	locker domain.Locker,
	positions *amm.PositionBook,
	audit domain.AuditStore,
	bonus BonusPolicy,
	startingBalance float64,
	logger *slog.Logger,
) *UserService {
	if startingBalance <= 0 {
		startingBalance = domain.DefaultStartingBalance
	}
	return &UserService{
		store:           store,
		locker:          locker,
		positions:       positions,
		audit:           audit,
		bonus:           bonus,
		startingBalance: startingBalance,
		hashCost:        bcrypt.DefaultCost,
		logger:          logger.With(slog.String("component", "user_service")),
		now:             time.Now,
	}
}

// Register creates a user with the starting balance. Usernames are unique
// case-insensitively.
func (s *UserService) Register(ctx context.Context, username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, fmt.Errorf("user_service: register: %w: username and password are required",
			domain.ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: register: hash password: %w", err)
	}

	now := s.now().UTC()
	u := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Balance:      s.startingBalance,
		CreatedAt:    now,
	}
	opening := domain.LedgerEntry{
		ID:          uuid.NewString(),
		UserID:      u.ID,
		Type:        domain.LedgerSignup,
		Amount:      s.startingBalance,
		Description: "Starting balance",
		CreatedAt:   now,
	}
	if err := s.store.CreateUser(ctx, u, opening); err != nil {
		return domain.User{}, fmt.Errorf("user_service: register: %w", err)
	}

	auditLog(ctx, s.audit, s.logger, "user_service", "user.register", map[string]any{
		"user_id":  u.ID,
		"username": u.Username,
	})
	s.logger.InfoContext(ctx, "user_service: user registered", slog.String("user_id", u.ID))
	return u, nil
}

// Authenticate checks username and password and records the login. Unknown
// users and wrong passwords fail the same way.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, fmt.Errorf("user_service: authenticate: %w", domain.ErrInvalidCredentials)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: authenticate: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, fmt.Errorf("user_service: authenticate: %w", domain.ErrInvalidCredentials)
	}

	now := s.now().UTC()
	if err := s.store.TouchLogin(ctx, u.ID, now); err != nil {
		s.logger.WarnContext(ctx, "user_service: touch login failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	} else {
		u.LastLogin = &now
	}
	return u, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (domain.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: get %q: %w", id, err)
	}
	return u, nil
}

// Bets returns the user's bets, newest first.
func (s *UserService) Bets(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Bet, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	bets, err := s.store.ListBetsByUser(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("user_service: bets %q: %w", id, err)
	}
	return bets, nil
}

// Ledger returns the user's balance movements, newest first.
func (s *UserService) Ledger(ctx context.Context, id string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListLedger(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("user_service: ledger %q: %w", id, err)
	}
	return entries, nil
}

// Positions returns the user's per-market holdings. The first read for a
// user rebuilds their book from the bet ledger under the user lock; later
// trades keep it current.
func (s *UserService) Positions(ctx context.Context, id string) ([]domain.Position, error) {
	if ps, ok := s.positions.Positions(id); ok {
		return ps, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, domain.UserLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("user_service: positions %q: %w", id, err)
	}
	defer unlock()

	if ps, ok := s.positions.Positions(id); ok {
		return ps, nil
	}
	bets, err := s.store.ListBetsByUser(ctx, id, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("user_service: positions %q: %w", id, err)
	}
	s.positions.Rebuild(id, bets)
	ps, _ := s.positions.Positions(id)
	return ps, nil
}

// ClaimBonus credits the bonus amount if the previous claim is at least one
// interval old.
func (s *UserService) ClaimBonus(ctx context.Context, id string) (domain.User, domain.LedgerEntry, error) {
	if !(s.bonus.Amount > 0) {
		return domain.User{}, domain.LedgerEntry{}, fmt.Errorf("user_service: claim bonus: %w: bonus disabled",
			domain.ErrBonusNotReady)
	}

	unlock, err := s.locker.Lock(ctx, domain.UserLockKey(id))
	if err != nil {
		return domain.User{}, domain.LedgerEntry{}, fmt.Errorf("user_service: claim bonus: %w", err)
	}
	defer unlock()

	now := s.now().UTC()
	var (
		user  domain.User
		entry domain.LedgerEntry
	)
	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		u, err := tx.UserForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if u.LastBonusClaim != nil {
			if next := u.LastBonusClaim.Add(s.bonus.Interval); now.Before(next) {
				return fmt.Errorf("%w: next claim at %s", domain.ErrBonusNotReady, next.Format(time.RFC3339))
			}
		}
		u.Balance += s.bonus.Amount
		u.LastBonusClaim = &now
		entry = domain.LedgerEntry{
			ID:          uuid.NewString(),
			UserID:      u.ID,
			Type:        domain.LedgerBonus,
			Amount:      s.bonus.Amount,
			Description: "Bonus claim",
			CreatedAt:   now,
		}
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, entry); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return domain.User{}, domain.LedgerEntry{}, fmt.Errorf("user_service: claim bonus: %w", err)
	}

	auditLog(ctx, s.audit, s.logger, "user_service", "user.bonus", map[string]any{
		"user_id": id,
		"amount":  s.bonus.Amount,
	})
	return user, entry, nil
}
