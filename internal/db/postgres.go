package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
)

// PoolConfig parses dsn and applies the configured pool sizing. Settings
// given in the DSN itself (pool_max_conns and friends) are overridden.
func PoolConfig(dsn string, pool config.PostgresPool) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = pool.MaxConns
	cfg.MinConns = pool.MinConns
	if pool.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = pool.HealthCheckPeriod
	}
	if pool.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pool.MaxConnLifetime
	}
	if pool.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pool.MaxConnIdleTime
	}
	return cfg, nil
}

// ConnectPostgres opens a pool for the appointment store and pings it, so a
// bad DSN fails at startup instead of on the first booking.
func ConnectPostgres(ctx context.Context, dsn string, pool config.PostgresPool) (*pgxpool.Pool, error) {
	cfg, err := PoolConfig(dsn, pool)
	if err != nil {
		return nil, err
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return p, nil
}
