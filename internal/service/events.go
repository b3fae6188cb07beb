// Package service coordinates the market maker with persistence, locking,
// caching, and the event bus. The pricing and settlement rules themselves
// live in internal/amm; services decide when they run and what is stored.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// publish sends evt on its Pub/Sub channel and appends it to the durable
// event stream. Failures are logged and never returned.
func publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, prefix string, evt domain.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.WarnContext(ctx, prefix+": marshal event failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := bus.Publish(ctx, evt.Channel(), payload); err != nil {
		logger.WarnContext(ctx, prefix+": publish event failed",
			slog.String("type", string(evt.Type)),
			slog.String("market_id", evt.MarketID),
			slog.String("error", err.Error()),
		)
	}
	if err := bus.StreamAppend(ctx, domain.StreamEvents, payload); err != nil {
		logger.WarnContext(ctx, prefix+": stream append failed",
			slog.String("type", string(evt.Type)),
			slog.String("market_id", evt.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func auditLog(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, prefix, event string, detail map[string]any) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, prefix+": audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// refresh writes the committed market into the cache. The cache keeps
// whichever snapshot is newer, so a reader that loaded the row before this
// commit cannot put stale shares back. If the write fails the entry is
// dropped instead.
func refresh(ctx context.Context, cache domain.MarketCache, logger *slog.Logger, prefix string, m domain.Market) {
	err := cache.Set(ctx, m)
	if err == nil {
		return
	}
	logger.WarnContext(ctx, prefix+": cache refresh failed",
		slog.String("market_id", m.ID),
		slog.String("error", err.Error()),
	)
	if err := cache.Invalidate(ctx, m.ID); err != nil {
		// Non-fatal: entries expire on their own.
		logger.WarnContext(ctx, prefix+": cache invalidate failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}
