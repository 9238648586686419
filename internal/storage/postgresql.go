package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPostgreSQL creates a pgx pool of at most maxConns connections.
func OpenPostgreSQL(ctx context.Context, url string, maxConns int) (*DB, error) {
	if url == "" {
		return nil, fmt.Errorf("storage.postgresql.url is required")
	}

	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}
	if maxConns <= 0 {
		maxConns = defaultPoolSize
	}
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return &DB{backend: BackendPostgreSQL, pool: pool}, nil
}
