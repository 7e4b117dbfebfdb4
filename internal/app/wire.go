package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/seanmx/xrpldexfeed/internal/blob/s3"
	"github.com/seanmx/xrpldexfeed/internal/cache/redis"
	"github.com/seanmx/xrpldexfeed/internal/config"
	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/notify"
	"github.com/seanmx/xrpldexfeed/internal/store/postgres"
)

// Dependencies bundles every domain-level backend the application modes
// need. Fields stay nil when their backend is disabled in the config; the
// modes and services treat a nil backend as "feature off". Wire constructs
// the bundle and the returned cleanup function tears it down.
type Dependencies struct {
	// Redis-backed.
	BookCache   domain.BookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Postgres-backed.
	TradeJournal domain.TradeJournal
	AuditStore   domain.AuditStore

	// Object storage.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Operator notifications plus the audit trail for feed lifecycle
	// events. Always non-nil; with no senders configured it only audits.
	FeedEvents *notify.FeedEvents
}

// Wire constructs the concrete backends enabled by the configuration and
// returns them with a cleanup function that releases connections in reverse
// construction order. Cross-backend requirements (the archive needs both
// the journal and the bucket) are enforced by config validation before Wire
// runs.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewBookCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	if cfg.Postgres.Enabled {
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
		journal := postgres.NewTradeJournal(pool)
		deps.TradeJournal = journal
		deps.AuditStore = postgres.NewAuditStore(pool)

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
			closers = append(closers, func() { _ = s3Client.Close() })

			deps.BlobWriter = s3blob.NewWriter(s3Client)
			deps.BlobReader = s3blob.NewReader(s3Client)
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, journal, deps.AuditStore)
		}
	}

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
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.FeedEvents = notify.NewFeedEvents(notifier, deps.AuditStore, deps.SignalBus, logger)

	return deps, cleanup, nil
}
