// Package postgres builds instrumented pgx connection pools.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tune NewPool. The zero value uses pgx defaults.
type PoolOptions struct {
	MaxConns      int32
	SlowQuery     time.Duration // failed queries are always logged; successful ones only when slower
	QueryObserver QueryObserver
}

// NewPool parses databaseURL, installs the otel + logging query tracer and
// verifies connectivity. The caller owns the returned pool.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		pcfg.MaxConns = opts.MaxConns
	}

	pcfg.ConnConfig.Tracer = &queryTracer{
		inner:    otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName()),
		slow:     opts.SlowQuery,
		observer: opts.QueryObserver,
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("record pool stats: %w", err)
	}

	return pool, nil
}
