// Package pipeline runs background jobs over the market store. Today that
// is the sweep that copies resolved markets to cold storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/lmsrmarket/internal/notify"
)

// Sweeper archives every resolved market that is not archived yet and
// returns how many it checked. *s3blob.Archiver satisfies it.
type Sweeper interface {
	ArchiveResolved(ctx context.Context) (int, error)
}

// Archiver moves resolved market ledgers to S3 cold storage, either once or
// on a cron schedule.
type Archiver struct {
	sweeper  Sweeper
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewArchiver creates a new Archiver. notifier may be nil.
func NewArchiver(sweeper Sweeper, notifier *notify.Notifier, logger *slog.Logger) *Archiver {
	return &Archiver{
		sweeper:  sweeper,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive sweep.
func (a *Archiver) Run(ctx context.Context) error {
	start := time.Now()
	a.logger.InfoContext(ctx, "starting archive run")

	n, err := a.sweeper.ArchiveResolved(ctx)
	if err != nil {
		if nerr := a.notifier.Notify(ctx, notify.EventArchiveFailed, "Archive sweep failed", err.Error()); nerr != nil {
			a.logger.WarnContext(ctx, "archiver: notify failed", slog.String("error", nerr.Error()))
		}
		return fmt.Errorf("pipeline: archive resolved markets: %w", err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int("markets_checked", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// RunCron runs the archiver on a cron schedule until the context is
// cancelled. schedule is a standard 5-field expression or a descriptor such as
// "@hourly". A sweep still running when the next one is due is skipped.
func (a *Archiver) RunCron(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", schedule, err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archiver cron started",
		slog.String("cron", schedule),
		slog.Time("next_run", c.Entries()[0].Next),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
