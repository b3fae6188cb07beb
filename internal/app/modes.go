package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lmsrmarket/internal/pipeline"
	"github.com/alanyoungcy/lmsrmarket/internal/server"
	"github.com/alanyoungcy/lmsrmarket/internal/server/handler"
	"github.com/alanyoungcy/lmsrmarket/internal/server/ws"
	"github.com/alanyoungcy/lmsrmarket/internal/service"
)

// shutdownTimeout bounds how long in-flight requests get after cancellation.
const shutdownTimeout = 10 * time.Second

// services groups the domain services built from Dependencies.
type services struct {
	markets    *service.MarketService
	trading    *service.TradingService
	resolution *service.ResolutionService
	users      *service.UserService
}

func (a *App) buildServices(deps *Dependencies) services {
	markets := service.NewMarketService(deps.Store, deps.MarketCache, deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger)
	markets.SetDefaultLiquidity(a.cfg.Market.DefaultLiquidity)

	return services{
		markets: markets,
		trading: service.NewTradingService(
			deps.Store, deps.Locker, markets, deps.MarketCache,
			deps.SignalBus, deps.AuditStore, deps.Positions, a.logger,
		),
		resolution: service.NewResolutionService(
			deps.Store, deps.Locker, deps.MarketCache, deps.SignalBus,
			deps.AuditStore, deps.Notifier, deps.Archiver, a.logger,
		),
		users: service.NewUserService(
			deps.Store, deps.Locker, deps.Positions, deps.AuditStore,
			service.BonusPolicy{
				Amount:   a.cfg.Market.BonusAmount,
				Interval: a.cfg.Market.BonusInterval.Duration,
			},
			a.cfg.Market.StartingBalance,
			a.logger,
		),
	}
}

// ServerMode serves the HTTP and WebSocket API and, when S3 is enabled,
// sweeps resolved markets into the archive on the configured schedule.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	hub := ws.NewHub(deps.SignalBus, a.logger)
	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			AdminKey:        a.cfg.Server.AdminKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(a.cfg.Mode, a.logger),
			Markets: handler.NewMarketHandler(svcs.markets, svcs.trading, svcs.resolution, a.logger),
			Bets:    handler.NewBetHandler(svcs.trading, a.logger),
			Users:   handler.NewUserHandler(svcs.users, a.logger),
		},
		deps.RateLimiter,
		hub,
		a.logger,
	)
	if a.cfg.Server.AdminKey == "" {
		a.logger.WarnContext(ctx, "server.admin_key is empty, admin routes are open")
	}

	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if deps.ArchiveSweeper != nil && a.cfg.Archive.Cron != "" {
		archiver := pipeline.NewArchiver(deps.ArchiveSweeper, deps.Notifier, a.logger)
		g.Go(func() error {
			if err := archiver.RunCron(ctx, a.cfg.Archive.Cron); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// ArchiveMode runs one archive sweep over every resolved market and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.ArchiveSweeper == nil {
		return fmt.Errorf("archive mode: s3 is not enabled")
	}
	return pipeline.NewArchiver(deps.ArchiveSweeper, deps.Notifier, a.logger).Run(ctx)
}

// logStartup records the redacted configuration at debug level.
func (a *App) logStartup(ctx context.Context) {
	a.logger.DebugContext(ctx, "active configuration", slog.Any("config", a.redacted()))
}
