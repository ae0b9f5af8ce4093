// Package bootstrap assembles the adapters shared by the server and poller binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/notifier"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/provider/mercadopago"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/repository/postgres"
	redisrepo "github.com/Wilsonc7/mp-notifier/internal/adapter/repository/redis"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/repository/spool"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/repository/sqlite"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/secrets"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/config"
	"github.com/Wilsonc7/mp-notifier/internal/usecase"
)

// LeaseKey is the Redis key guarding the polling loop.
const LeaseKey = "mp-notifier:poll-lease"

// Storage is an open database with its repositories.
type Storage struct {
	DB      *sql.DB
	Tenants domain.TenantRepository
	Store   domain.TransactionRepository
}

// OpenStorage connects to the configured database and applies migrations.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	loc := cfg.Location()
	switch cfg.DBDriver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return &Storage{
			DB:      db,
			Tenants: sqlite.NewTenantRepository(db, logger),
			Store:   sqlite.NewTransactionRepository(db, loc, logger),
		}, nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return &Storage{
			DB:      db,
			Tenants: postgres.NewTenantRepository(db, logger),
			Store:   postgres.NewTransactionRepository(db, loc, logger),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

// NewSealer builds the credential sealer from the configured key.
func NewSealer(cfg *config.Config) (*secrets.Sealer, error) {
	key, err := cfg.CredentialKeyBytes()
	if err != nil {
		return nil, err
	}
	return secrets.NewSealer(key)
}

// NewProviderClient configures the payment provider client.
func NewProviderClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *mercadopago.Client {
	return mercadopago.NewClient(mercadopago.Options{
		BaseURL:            cfg.ProviderBaseURL,
		Timeout:            cfg.ProviderTimeout,
		PageSize:           cfg.ProviderPageSize,
		RateLimit:          cfg.ProviderRateLimit,
		Burst:              cfg.ProviderBurst,
		BreakerMaxFailures: cfg.BreakerMaxFailures,
		BreakerCooldown:    cfg.BreakerCooldown,
		Location:           cfg.Location(),
	}, logger, m)
}

// ConnectRedis returns nil when no Redis URL is configured or the server is unreachable.
// Redis only carries optional features, so its absence is logged and tolerated.
func ConnectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	client, err := redisrepo.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, running without lease and payment stream", "error", err)
		return nil
	}
	return client
}

// Notifiers is the fan-out notifier and the sinks that need closing.
type Notifiers struct {
	*notifier.Multi
	Stream  *redisrepo.PaymentStream
	closers []func() error
}

// NewNotifiers wires the log sink plus the optional Redis stream and Kafka topic.
// rdb may be nil.
func NewNotifiers(cfg *config.Config, rdb *redis.Client, logger *slog.Logger, m *metrics.Metrics) *Notifiers {
	n := &Notifiers{Multi: notifier.NewMulti(logger, m, notifier.Sink{Name: "log", Notifier: notifier.NewLog(logger)})}
	if rdb != nil {
		n.Stream = redisrepo.NewPaymentStream(rdb, cfg.PaymentStream, 0, logger)
		n.Add("redis_stream", n.Stream)
	}
	if len(cfg.KafkaBrokers) > 0 {
		k := notifier.NewKafka(notifier.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		n.Add("kafka", k)
		n.closers = append(n.closers, k.Close)
		logger.Info("kafka notifier enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	return n
}

// Close flushes and closes the sinks.
func (n *Notifiers) Close() error {
	var first error
	for _, c := range n.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Pipeline is the ingestion path: spool, ingestor and refresh cache.
type Pipeline struct {
	Spool    *spool.Spool
	Ingestor *usecase.Ingestor
	Cache    *usecase.RefreshCache
}

// NewPipeline builds the ingestor and a refresh cache that records what it fetches.
func NewPipeline(cfg *config.Config, st *Storage, provider domain.ProviderClient, sealer domain.CredentialSealer,
	n domain.Notifier, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	sp, err := spool.New(cfg.SpoolPath, cfg.SpoolSegmentSize, cfg.SpoolMaxDiskSize, logger, m)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	ing := usecase.NewIngestor(usecase.IngestorDeps{
		Store:    st.Store,
		Provider: provider,
		Sealer:   sealer,
		Notifier: n,
		Spool:    sp,
		Metrics:  m,
		Location: cfg.Location(),
	}, logger)

	cache := usecase.NewRefreshCache(provider, cfg.RefreshWindow, logger, m)
	cache.SetRecorder(ing)

	return &Pipeline{Spool: sp, Ingestor: ing, Cache: cache}, nil
}

// NewScheduler builds the polling loop, guarded by a Redis lease when rdb is set.
func NewScheduler(cfg *config.Config, tenants domain.TenantRepository, ing *usecase.Ingestor, rdb *redis.Client,
	logger *slog.Logger, m *metrics.Metrics) *usecase.Scheduler {
	opts := usecase.SchedulerOptions{
		Interval:    cfg.PollInterval,
		Concurrency: cfg.PollConcurrency,
		LeaseTTL:    cfg.PollLeaseTTL,
	}
	if rdb != nil {
		lease := redisrepo.NewLease(rdb, LeaseKey, logger)
		opts.Lease = lease
		logger.Info("poll lease enabled", "key", LeaseKey, "owner", lease.Owner())
	}
	return usecase.NewScheduler(tenants, ing, opts, logger, m)
}
