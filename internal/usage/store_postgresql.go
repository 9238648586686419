package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements UsageStore for PostgreSQL databases.
type PostgreSQLStore struct {
	pool   *pgxpool.Pool
	pruner *pruner
}

// NewPostgreSQLStore creates the generation_usage table if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS generation_usage (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			task_type TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			caller_id TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd NUMERIC(14, 6) NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_generation_usage_timestamp ON generation_usage(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_generation_usage_provider ON generation_usage(provider)",
		"CREATE INDEX IF NOT EXISTS idx_generation_usage_caller ON generation_usage(caller_id)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{pool: pool}
	store.pruner = startPruner(retentionDays, store.prune)
	return store, nil
}

// WriteBatch queues every insert on a single pgx.Batch inside a transaction.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO generation_usage (id, request_id, timestamp, provider, model, task_type,
				content_type, caller_id, fingerprint, input_tokens, output_tokens, total_tokens,
				cost_usd, duration_ms, attempts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, e.RequestID, e.Timestamp, e.Provider, e.Model, e.TaskType,
			e.ContentType, e.CallerID, e.Fingerprint, e.InputTokens, e.OutputTokens, e.TotalTokens,
			e.CostUSD, e.DurationMs, e.Attempts)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert %d usage entries: %w", len(entries), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the pruner. The pool belongs to the storage package.
func (s *PostgreSQLStore) Close() error {
	s.pruner.Stop()
	return nil
}

func (s *PostgreSQLStore) prune(cutoff time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	tag, err := s.pool.Exec(ctx, "DELETE FROM generation_usage WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to prune usage entries", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("pruned expired usage entries", "deleted", n)
	}
}
