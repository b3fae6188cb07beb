package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/amm"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/notify"
)

// ResolutionService settles markets and pays out winning shares.
type ResolutionService struct {
	store    domain.Store
	locker   domain.Locker
	cache    domain.MarketCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	archiver domain.Archiver
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolutionService creates a ResolutionService. audit, notifier, and
// archiver may be nil.
func NewResolutionService(
	store domain.Store,
	locker domain.Locker,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	archiver domain.Archiver,
	logger *slog.Logger,
) *ResolutionService {
	return &ResolutionService{
		store:    store,
		locker:   locker,
		cache:    cache,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "resolution_service")),
		now:      time.Now,
	}
}

// Resolve settles marketID on outcome and credits every holder of the
// winning side one unit per share. It runs exactly once per market: a
// second call fails with domain.ErrAlreadyResolved and pays nothing.
func (s *ResolutionService) Resolve(ctx context.Context, marketID string, outcome domain.Side) (amm.Resolution, error) {
	unlockMarket, err := s.locker.Lock(ctx, domain.MarketLockKey(marketID))
	if err != nil {
		return amm.Resolution{}, fmt.Errorf("resolution_service: resolve: %w", err)
	}
	defer unlockMarket()

	// With the market locked no new bets can land, so the holder set read
	// here is final. User keys sort after market keys, matching trades.
	holders, err := s.winningHolders(ctx, marketID, outcome)
	if err != nil {
		return amm.Resolution{}, fmt.Errorf("resolution_service: resolve: %w", err)
	}
	unlockUsers, err := s.locker.Lock(ctx, holders...)
	if err != nil {
		return amm.Resolution{}, fmt.Errorf("resolution_service: resolve: %w", err)
	}
	defer unlockUsers()

	now := s.now().UTC()
	var res amm.Resolution
	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		m, err := tx.MarketForUpdate(ctx, marketID)
		if err != nil {
			return err
		}
		bets, err := tx.BetsByMarket(ctx, marketID)
		if err != nil {
			return err
		}
		res, err = amm.Resolve(m, outcome, bets, now)
		if err != nil {
			return err
		}
		if err := tx.ResolveMarket(ctx, res.Market); err != nil {
			return err
		}
		for _, p := range res.Payouts {
			u, err := tx.UserForUpdate(ctx, p.UserID)
			if err != nil {
				return err
			}
			credited, entry := amm.Credit(u, p, res.Market, now)
			if err := tx.SaveUser(ctx, credited); err != nil {
				return err
			}
			if err := tx.AppendLedger(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return amm.Resolution{}, fmt.Errorf("resolution_service: resolve: %w", err)
	}

	s.afterResolve(ctx, res, now)
	return res, nil
}

// winningHolders returns the sorted user lock keys of everyone holding
// outcome shares. An invalid outcome yields no keys; amm.Resolve reports it.
func (s *ResolutionService) winningHolders(ctx context.Context, marketID string, outcome domain.Side) ([]string, error) {
	if !outcome.Valid() {
		return nil, nil
	}
	bets, err := s.store.ListBetsByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	holdings := amm.Holdings(bets, marketID, outcome)
	keys := make([]string, 0, len(holdings))
	for userID := range holdings {
		keys = append(keys, domain.UserLockKey(userID))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *ResolutionService) afterResolve(ctx context.Context, res amm.Resolution, now time.Time) {
	m := res.Market
	outcome := *m.Outcome
	prices := amm.MarketPrices(m)

	refresh(ctx, s.cache, s.logger, "resolution_service", m)
	publish(ctx, s.bus, s.logger, "resolution_service", domain.Event{
		Type:      domain.EventResolution,
		MarketID:  m.ID,
		PriceYes:  prices.Yes,
		PriceNo:   prices.No,
		Outcome:   outcome,
		Payouts:   len(res.Payouts),
		Timestamp: now,
	})
	auditLog(ctx, s.audit, s.logger, "resolution_service", "market.resolve", map[string]any{
		"market_id": m.ID,
		"outcome":   string(outcome),
		"payouts":   len(res.Payouts),
		"total":     res.Total(),
	})

	s.logger.InfoContext(ctx, "resolution_service: market resolved",
		slog.String("market_id", m.ID),
		slog.String("outcome", string(outcome)),
		slog.Int("payouts", len(res.Payouts)),
		slog.Float64("total", res.Total()),
	)

	if err := s.notifier.Notify(ctx, notify.EventMarketResolved, "Market resolved",
		notify.ResolutionMessage(m.Title, string(outcome), len(res.Payouts), res.Total())); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: notify failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	if s.archiver == nil {
		return
	}
	path, err := s.archiver.ArchiveMarket(ctx, m.ID)
	if err != nil {
		// The scheduled sweep retries markets that are not yet archived.
		s.logger.WarnContext(ctx, "resolution_service: archive failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		if nerr := s.notifier.Notify(ctx, notify.EventArchiveFailed, "Archive failed",
			fmt.Sprintf("%s: %v", m.Title, err)); nerr != nil {
			s.logger.WarnContext(ctx, "resolution_service: notify failed",
				slog.String("market_id", m.ID),
				slog.String("error", nerr.Error()),
			)
		}
		return
	}
	s.logger.InfoContext(ctx, "resolution_service: ledger archived",
		slog.String("market_id", m.ID),
		slog.String("path", path),
	)
}
