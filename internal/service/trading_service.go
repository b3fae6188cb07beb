package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/amm"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// BuyInput is a request to buy Amount shares of Side in a market.
type BuyInput struct {
	UserID   string
	MarketID string
	Side     domain.Side
	Amount   float64
}

// TradingService quotes and executes buy orders.
type TradingService struct {
	store     domain.Store
	locker    domain.Locker
	markets   *MarketService
	cache     domain.MarketCache
	bus       domain.SignalBus
	audit     domain.AuditStore
	positions *amm.PositionBook
	logger    *slog.Logger
	now       func() time.Time
}

// NewTradingService creates a TradingService. audit may be nil.
func NewTradingService(
	store domain.Store,
	locker domain.Locker,
	markets *MarketService,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	positions *amm.PositionBook,
	logger *slog.Logger,
) *TradingService {
	return &TradingService{
		store:     store,
		locker:    locker,
		markets:   markets,
		cache:     cache,
		bus:       bus,
		audit:     audit,
		positions: positions,
		logger:    logger.With(slog.String("component", "trading_service")),
		now:       time.Now,
	}
}

// Quote prices a hypothetical buy without taking locks or changing state.
// The result may be stale by the time a buy executes.
func (s *TradingService) Quote(ctx context.Context, marketID string, side domain.Side, amount float64) (amm.QuoteResult, error) {
	m, err := s.markets.Get(ctx, marketID)
	if err != nil {
		return amm.QuoteResult{}, err
	}
	if !m.Open(s.now()) {
		return amm.QuoteResult{}, fmt.Errorf("trading_service: quote: %w: market %s", domain.ErrMarketClosed, m.ID)
	}
	q, err := amm.Quote(amm.StateOf(m), side, amount)
	if err != nil {
		return amm.QuoteResult{}, fmt.Errorf("trading_service: quote: %w", err)
	}
	return q, nil
}

// Buy executes a buy order. The market and user are locked for the whole
// read-price-write sequence, so concurrent trades on one market behave as
// if they ran one after another.
func (s *TradingService) Buy(ctx context.Context, in BuyInput) (amm.Fill, error) {
	unlock, err := s.locker.Lock(ctx, domain.MarketLockKey(in.MarketID), domain.UserLockKey(in.UserID))
	if err != nil {
		return amm.Fill{}, fmt.Errorf("trading_service: buy: %w", err)
	}
	defer unlock()

	now := s.now().UTC()
	var fill amm.Fill
	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		m, err := tx.MarketForUpdate(ctx, in.MarketID)
		if err != nil {
			return err
		}
		u, err := tx.UserForUpdate(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !m.Resolved && m.Expired(now) {
			return fmt.Errorf("%w: market %s expired", domain.ErrMarketClosed, m.ID)
		}

		fill, err = amm.ExecuteBuy(m, u, in.Side, in.Amount, now)
		if err != nil {
			return err
		}

		if err := tx.SaveMarketShares(ctx, fill.Market); err != nil {
			return err
		}
		if err := tx.SaveUser(ctx, fill.User); err != nil {
			return err
		}
		if err := tx.InsertBet(ctx, fill.Bet); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, fill.Entry); err != nil {
			return err
		}
		return tx.AppendPricePoint(ctx, fill.Point)
	})
	if err != nil {
		return amm.Fill{}, fmt.Errorf("trading_service: buy: %w", err)
	}

	// Applied under the user lock so a concurrent rebuild cannot miss it.
	s.positions.Apply(fill.Bet)

	refresh(ctx, s.cache, s.logger, "trading_service", fill.Market)
	publish(ctx, s.bus, s.logger, "trading_service", domain.Event{
		Type:      domain.EventTrade,
		MarketID:  fill.Market.ID,
		UserID:    fill.User.ID,
		Side:      fill.Bet.Side,
		Amount:    fill.Bet.Amount,
		Cost:      fill.Bet.TotalCost,
		PriceYes:  fill.Point.PriceYes,
		PriceNo:   fill.Point.PriceNo,
		Timestamp: now,
	})
	auditLog(ctx, s.audit, s.logger, "trading_service", "trade.buy", map[string]any{
		"bet_id":    fill.Bet.ID,
		"market_id": fill.Market.ID,
		"user_id":   fill.User.ID,
		"side":      string(fill.Bet.Side),
		"amount":    fill.Bet.Amount,
		"cost":      fill.Bet.TotalCost,
	})

	s.logger.InfoContext(ctx, "trading_service: buy executed",
		slog.String("market_id", fill.Market.ID),
		slog.String("user_id", fill.User.ID),
		slog.String("side", string(fill.Bet.Side)),
		slog.Float64("amount", fill.Bet.Amount),
		slog.Float64("cost", fill.Bet.TotalCost),
		slog.Float64("price_yes", fill.Point.PriceYes),
	)
	return fill, nil
}
