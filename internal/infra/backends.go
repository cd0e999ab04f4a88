package infra

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/balancecore/internal/config"
)

// Backends holds the external connections the configured stores need. Either
// field may be nil.
type Backends struct {
	DB    *pgxpool.Pool
	Cache *redis.Client
}

// Open connects to Postgres when a Postgres store is selected, applying the
// schema, and to Redis when a Redis store is selected or REDIS_URL is set for
// the idempotency cache.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}
	if cfg.NeedsPostgres() {
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.DB = db
		if err := Migrate(ctx, db); err != nil {
			b.Close(logger)
			return nil, err
		}
		logger.Info("postgres connected")
	}
	if cfg.NeedsRedis() || cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			b.Close(logger)
			return nil, err
		}
		b.Cache = cache
		logger.Info("redis connected")
	}
	return b, nil
}

// Close releases every open connection.
func (b *Backends) Close(logger *slog.Logger) {
	if b.DB != nil {
		b.DB.Close()
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			logger.Warn("close redis", slog.Any("error", err))
		}
	}
}
