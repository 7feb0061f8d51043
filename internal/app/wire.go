package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/mkoval8/venuebot/internal/blob/s3"
	"github.com/mkoval8/venuebot/internal/cache/redis"
	"github.com/mkoval8/venuebot/internal/config"
	"github.com/mkoval8/venuebot/internal/crypto"
	"github.com/mkoval8/venuebot/internal/domain"
	"github.com/mkoval8/venuebot/internal/notify"
	"github.com/mkoval8/venuebot/internal/store/postgres"
	"github.com/mkoval8/venuebot/internal/venue"
)

// Dependencies bundles every domain-level dependency the application needs.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	BotStore   domain.BotStore
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore
	StateStore domain.StrategyStateStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Venues
	Gateways map[string]*venue.Gateway
	Streams  map[string]*venue.TickerStream

	// Blob storage (nil unless archival is enabled)
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.BotStore = postgres.NewBotStore(pool)
	tradeStore := postgres.NewTradeStore(pool)
	deps.TradeStore = tradeStore
	auditStore := postgres.NewAuditStore(pool)
	deps.AuditStore = auditStore
	deps.StateStore = postgres.NewStrategyStateStore(pool)

	// --- Redis ---
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

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Venue gateways and streams ---
	deps.Gateways = make(map[string]*venue.Gateway, len(cfg.Venues))
	deps.Streams = make(map[string]*venue.TickerStream)
	tuning := venueTuning{
		CacheSweep:       time.Duration(cfg.Scheduler.CacheSweepIntervalSecs) * time.Second,
		HistoryPageDelay: time.Duration(cfg.Scheduler.HistoryPageDelayMs) * time.Millisecond,
		HistoryMaxRows:   cfg.Scheduler.HistoryMaxRows,
	}
	for name, vcfg := range cfg.Venues {
		gw, err := wireVenue(name, vcfg, cfg.Mode, tuning, deps.RateLimiter, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: venue %s: %w", name, err)
		}
		deps.Gateways[name] = gw

		if vcfg.WsURL != "" {
			stream := venue.NewTickerStream(vcfg.WsURL, logger)
			stream.OnTicker(gw.PrimeTicker)
			deps.Streams[name] = stream
		}
	}

	// --- S3 blob storage (archival) ---
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

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), tradeStore, auditStore, auditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramBotToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// venueTuning carries the scheduler-level knobs that feed the gateway.
type venueTuning struct {
	CacheSweep       time.Duration
	HistoryPageDelay time.Duration
	HistoryMaxRows   int
}

// wireVenue builds the REST driver and resilient gateway for one venue.
// Credentials are loaded from the encrypted key file when configured, the
// plain config value otherwise; paper mode tolerates missing credentials.
func wireVenue(name string, vcfg config.VenueConfig, mode string, sched venueTuning, limiter domain.RateLimiter, logger *slog.Logger) (*venue.Gateway, error) {
	var auth *crypto.HMACAuth
	if vcfg.APIKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           vcfg.APISecret,
			EncryptedSecretPath: vcfg.EncryptedSecretPath,
			Password:            vcfg.SecretPassword,
		})
		if err != nil {
			if mode == "trade" {
				return nil, fmt.Errorf("load secret: %w", err)
			}
			logger.Warn("venue credentials unavailable, public endpoints only",
				"venue", name, "error", err)
		} else {
			auth = &crypto.HMACAuth{Key: vcfg.APIKey, Secret: secret}
		}
	}

	driver := venue.NewRESTClient(name, vcfg.BaseURL, vcfg.PublicBaseURL, auth, vcfg.RequestTimeout())
	gw := venue.NewGateway(driver, limiter, venue.GatewayOptions{
		RequestTimeout:     vcfg.RequestTimeout(),
		RateLimitPerSecond: vcfg.RateLimitPerSecond,
		CacheSweepInterval: sched.CacheSweep,
		HistoryPageDelay:   sched.HistoryPageDelay,
		HistoryMaxRows:     sched.HistoryMaxRows,
	}, logger)
	return gw, nil
}

// archiveLoop periodically moves old trade and audit rows to object
// storage. Runs until ctx is cancelled.
func archiveLoop(ctx context.Context, archiver domain.Archiver, cfg config.ArchiveConfig, logger *slog.Logger) {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	log := logger.With("component", "archive_loop")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := time.Now().Add(-retention)
			if n, err := archiver.ArchiveTrades(ctx, before); err != nil {
				log.Warn("trade archival failed", "error", err)
			} else if n > 0 {
				log.Info("trades archived", "rows", n)
			}
			if n, err := archiver.ArchiveAuditLog(ctx, before); err != nil {
				log.Warn("audit archival failed", "error", err)
			} else if n > 0 {
				log.Info("audit entries archived", "rows", n)
			}
		}
	}
}
