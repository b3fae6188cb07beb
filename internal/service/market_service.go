package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/lmsrmarket/internal/amm"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/notify"
)

// CreateMarketInput carries the fields an operator supplies for a new
// market. A Liquidity of zero or less selects the service default.
type CreateMarketInput struct {
	Title       string
	Description string
	Liquidity   float64
	ExpiresAt   *time.Time
}

// MarketView is a market together with the prices it currently displays.
type MarketView struct {
	Market domain.Market
	Prices amm.Prices
	Open   bool
}

// MarketService handles market creation and the read paths that serve
// market data.
type MarketService struct {
	store    domain.Store
	cache    domain.MarketCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	loads    singleflight.Group
	defaultB float64
	logger   *slog.Logger
	now      func() time.Time
}

// NewMarketService creates a MarketService. audit and notifier may be nil.
func NewMarketService(
	store domain.Store,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		store:    store,
		cache:    cache,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		defaultB: domain.DefaultLiquidity,
		logger:   logger.With(slog.String("component", "market_service")),
		now:      time.Now,
	}
}

// SetDefaultLiquidity changes the b used for markets created without one.
// Non-positive values are ignored.
func (s *MarketService) SetDefaultLiquidity(b float64) {
	if b > 0 && !math.IsInf(b, 0) {
		s.defaultB = b
	}
}

// Create opens a new market with zero outstanding shares, so both sides
// start at 0.5.
func (s *MarketService) Create(ctx context.Context, in CreateMarketInput) (domain.Market, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Market{}, fmt.Errorf("market_service: create: %w: title is required", domain.ErrInvalidMarket)
	}
	if math.IsNaN(in.Liquidity) || math.IsInf(in.Liquidity, 0) {
		return domain.Market{}, fmt.Errorf("market_service: create: %w: %v", domain.ErrInvalidLiquidity, in.Liquidity)
	}
	liquidity := in.Liquidity
	if liquidity <= 0 {
		liquidity = s.defaultB
	}

	now := s.now().UTC()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return domain.Market{}, fmt.Errorf("market_service: create: %w: expiry %s is in the past",
			domain.ErrInvalidMarket, in.ExpiresAt.Format(time.RFC3339))
	}

	m := domain.Market{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Liquidity:   liquidity,
		CreatedAt:   now,
		ExpiresAt:   in.ExpiresAt,
	}
	if err := s.store.CreateMarket(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	prices := amm.Price(amm.StateOf(m))
	publish(ctx, s.bus, s.logger, "market_service", domain.Event{
		Type:      domain.EventMarketCreated,
		MarketID:  m.ID,
		PriceYes:  prices.Yes,
		PriceNo:   prices.No,
		Timestamp: now,
	})
	auditLog(ctx, s.audit, s.logger, "market_service", "market.create", map[string]any{
		"market_id": m.ID,
		"title":     m.Title,
		"liquidity": m.Liquidity,
	})
	if err := s.notifier.Notify(ctx, notify.EventMarketCreated, "New market",
		fmt.Sprintf("%s (b=%g)", m.Title, m.Liquidity)); err != nil {
		s.logger.WarnContext(ctx, "market_service: notify failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.Float64("liquidity", m.Liquidity),
	)
	return m, nil
}

// Get retrieves a market by ID, checking the cache first. Concurrent misses
// for the same ID share one store read.
func (s *MarketService) Get(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.cache.Get(ctx, id); err == nil {
		return m, nil
	}

	v, err, _ := s.loads.Do(id, func() (any, error) {
		m, err := s.store.GetMarket(ctx, id)
		if err != nil {
			return domain.Market{}, err
		}
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
		return m, nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", id, err)
	}
	return v.(domain.Market), nil
}

// List returns markets from the store, newest first.
func (s *MarketService) List(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	markets, err := s.store.ListMarkets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// View returns the market with its display prices.
func (s *MarketService) View(ctx context.Context, id string) (MarketView, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return MarketView{}, err
	}
	return s.view(m), nil
}

// ListViews is List with display prices attached.
func (s *MarketService) ListViews(ctx context.Context, filter domain.MarketFilter) ([]MarketView, error) {
	markets, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]MarketView, 0, len(markets))
	for _, m := range markets {
		out = append(out, s.view(m))
	}
	return out, nil
}

func (s *MarketService) view(m domain.Market) MarketView {
	return MarketView{Market: m, Prices: amm.MarketPrices(m), Open: m.Open(s.now())}
}

// History returns the market's recorded price points, oldest first.
func (s *MarketService) History(ctx context.Context, id string, opts domain.ListOpts) ([]domain.PricePoint, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	points, err := s.store.ListPriceHistory(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: history %q: %w", id, err)
	}
	return points, nil
}
