package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrmarket/internal/config"
	"github.com/alanyoungcy/lmsrmarket/internal/service"
)

func TestWire_InProcessDefaults(t *testing.T) {
	cfg := config.Defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Store)
	require.NotNil(t, deps.AuditStore)
	require.NotNil(t, deps.Locker)
	require.NotNil(t, deps.MarketCache)
	require.NotNil(t, deps.RateLimiter)
	require.NotNil(t, deps.SignalBus)
	require.NotNil(t, deps.Positions)
	require.Nil(t, deps.Archiver, "archiver must be a nil interface when s3 is disabled")
	require.Nil(t, deps.ArchiveSweeper)
	require.False(t, deps.Notifier.Enabled())
}

func TestArchiveMode_RequiresS3(t *testing.T) {
	cfg := config.Defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(&cfg, logger)

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	require.ErrorContains(t, a.ArchiveMode(context.Background(), deps), "s3 is not enabled")
}

func TestBuildServices_UsesMarketConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Market.DefaultLiquidity = 40
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(&cfg, logger)

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	svcs := a.buildServices(deps)
	m, err := svcs.markets.Create(context.Background(), service.CreateMarketInput{Title: "configured b"})
	require.NoError(t, err)
	require.Equal(t, 40.0, m.Liquidity)

	u, err := svcs.users.Register(context.Background(), "alice", "hunter22")
	require.NoError(t, err)
	require.Equal(t, cfg.Market.StartingBalance, u.Balance)
}
