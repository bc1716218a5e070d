package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/driftlab/marketfeed/internal/blob/s3"
	"github.com/driftlab/marketfeed/internal/cache/redis"
	"github.com/driftlab/marketfeed/internal/config"
	"github.com/driftlab/marketfeed/internal/domain"
	"github.com/driftlab/marketfeed/internal/store/postgres"
)

// Dependencies bundles the sinks the daemon writes normalized events to.
// Every field is optional; a nil field means that backend is disabled and the
// corresponding events are not persisted.
type Dependencies struct {
	TickerCache domain.TickerCache
	BookCache   domain.BookCache
	TradeStore  domain.TradeStore
	CandleStore domain.CandleStore
	Seeder      domain.CandleSeeder
	Archiver    domain.CandleArchiver
}

// Wire constructs the enabled backends from configuration. The returned
// cleanup function closes them in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: connect redis: %w", err)
		}
		closers = append(closers, func() {
			if err := rc.Close(); err != nil {
				logger.Warn("close redis", slog.String("error", err.Error()))
			}
		})
		deps.TickerCache = redis.NewTickerCache(rc)
		deps.BookCache = redis.NewBookCache(rc)
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.Postgres.Enabled {
		pc, err := postgres.New(ctx, postgres.ClientConfig{
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
			return nil, nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		closers = append(closers, pc.Close)

		if cfg.Postgres.RunMigrations {
			if err := pc.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("app: run migrations: %w", err)
			}
		}

		candleStore := postgres.NewCandleStore(pc.Pool())
		deps.TradeStore = postgres.NewTradeStore(pc.Pool())
		deps.CandleStore = candleStore
		deps.Seeder = candleStore
		logger.Info("postgres connected", slog.String("database", cfg.Postgres.Database))
	}

	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
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
			return nil, nil, fmt.Errorf("app: connect s3: %w", err)
		}
		if err := sc.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: s3 health: %w", err)
		}
		deps.Archiver = s3blob.NewCandleArchiver(sc)
		logger.Info("s3 archive ready", slog.String("bucket", cfg.S3.Bucket))
	}

	return deps, cleanup, nil
}
