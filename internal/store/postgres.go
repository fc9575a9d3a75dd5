// Package store opens the Postgres pool and owns the schema migrations.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/db"
)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Postgres wraps the pgx pool shared by every repository.
type Postgres struct {
	pool db.Pool
}

// NewPostgres creates a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, poolCfg *PoolConfig) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	applyPoolConfig(pgxCfg, poolCfg)

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Postgres{pool: pool}, nil
}

// FromPool wraps an existing pool, typically a pgxmock pool in tests.
func FromPool(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func applyPoolConfig(cfg *pgxpool.Config, poolCfg *PoolConfig) {
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
}

// Pool returns the underlying pool.
func (p *Postgres) Pool() db.Pool {
	return p.pool
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return eris.Wrap(p.pool.Ping(ctx), "postgres: ping")
}

// Migrate applies pending schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	return Migrate(ctx, p.pool)
}

// Close releases every connection.
func (p *Postgres) Close() {
	p.pool.Close()
}
