package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makkenzo/license-engine/internal/config"
	"github.com/makkenzo/license-engine/internal/ierr"
	"go.uber.org/zap"
)

const (
	applicationName = "license-engine"
	pingAttempts    = 3
	pingBackoff     = time.Second
)

// NewPgxPool opens the pool backing the license blob store. The database is
// pinged a few times since it often starts alongside the engine.
func NewPgxPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	pgxConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse postgres connection string: %v", ierr.ErrStoreFailed, err)
	}

	if cfg.MaxOpenConns > 0 {
		pgxConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 && cfg.MaxIdleConns <= cfg.MaxOpenConns {
		pgxConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	pgxConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	pgxConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create postgres connection pool: %v", ierr.ErrStoreFailed, err)
	}

	log := logger.Named("Postgres").With(
		zap.String("host", pgxConfig.ConnConfig.Host),
		zap.String("database", pgxConfig.ConnConfig.Database),
	)
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt == pingAttempts || ctx.Err() != nil {
			pool.Close()
			return nil, fmt.Errorf("%w: failed to ping postgres: %v", ierr.ErrStoreFailed, err)
		}
		log.Warn("Postgres not reachable yet, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(pingBackoff * time.Duration(attempt))
	}

	log.Info("Successfully connected to PostgreSQL")
	return pool, nil
}
