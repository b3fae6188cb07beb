package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/lmsrmarket/internal/amm"
	s3blob "github.com/alanyoungcy/lmsrmarket/internal/blob/s3"
	memcache "github.com/alanyoungcy/lmsrmarket/internal/cache/memory"
	"github.com/alanyoungcy/lmsrmarket/internal/cache/redis"
	"github.com/alanyoungcy/lmsrmarket/internal/config"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/notify"
	memstore "github.com/alanyoungcy/lmsrmarket/internal/store/memory"
	"github.com/alanyoungcy/lmsrmarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Store      domain.Store
	AuditStore domain.AuditStore

	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	Locker      domain.Locker
	SignalBus   domain.SignalBus

	// Archiver is nil unless S3 is enabled. ArchiveSweeper is the same
	// object seen through its batch method.
	Archiver       domain.Archiver
	ArchiveSweeper *s3blob.Archiver

	Positions *amm.PositionBook
	Notifier  *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Positions: amm.NewPositionBook()}

	// --- Durable store ---
	switch strings.ToLower(cfg.Storage.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Store = postgres.NewStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	default:
		logger.WarnContext(ctx, "wire: using in-memory store, state is lost on restart")
		deps.Store = memstore.New()
		deps.AuditStore = memstore.NewAuditStore()
	}

	// --- Locks, cache, rate limiting, event bus ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locker = redis.NewLockManager(redisClient, cfg.Redis.LockTTL.Duration)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		deps.Locker = amm.NewKeyedLocker()
		deps.MarketCache = memcache.NewMarketCache(cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = memcache.NewRateLimiter()
		deps.SignalBus = memcache.NewSignalBus()
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket not reachable, archives will retry on the next sweep",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}

		archiver := s3blob.NewArchiver(
			deps.Store,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
		)
		deps.Archiver = archiver
		deps.ArchiveSweeper = archiver
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
