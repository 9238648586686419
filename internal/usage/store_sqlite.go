package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query.
const (
	maxSQLiteParams      = 999
	columnsPerUsageEntry = 16
	maxEntriesPerBatch   = maxSQLiteParams / columnsPerUsageEntry
)

const usageColumns = `id, request_id, timestamp, provider, model, task_type, content_type, caller_id,
	fingerprint, input_tokens, output_tokens, total_tokens, cost_usd, duration_ms, attempts, created_at`

// SQLiteStore implements UsageStore for SQLite databases.
type SQLiteStore struct {
	db     *sql.DB
	pruner *pruner
}

// NewSQLiteStore creates the generation_usage table if needed and starts the
// retention pruner when retention is configured.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS generation_usage (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			task_type TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			caller_id TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
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
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{db: db}
	store.pruner = startPruner(retentionDays, store.prune)
	return store, nil
}

// WriteBatch inserts entries in chunks that stay under SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		end := min(i+maxEntriesPerBatch, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerUsageEntry)
		for j, e := range chunk {
			placeholders[j] = "(?" + strings.Repeat(", ?", columnsPerUsageEntry-1) + ")"
			values = append(values,
				e.ID,
				e.RequestID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.Provider,
				e.Model,
				e.TaskType,
				e.ContentType,
				e.CallerID,
				e.Fingerprint,
				e.InputTokens,
				e.OutputTokens,
				e.TotalTokens,
				e.CostUSD,
				e.DurationMs,
				e.Attempts,
				now,
			)
		}

		query := "INSERT OR IGNORE INTO generation_usage (" + usageColumns + ") VALUES " +
			strings.Join(placeholders, ",")
		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert usage batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}
	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the pruner. The DB itself belongs to the storage package.
func (s *SQLiteStore) Close() error {
	s.pruner.Stop()
	return nil
}

func (s *SQLiteStore) prune(cutoff time.Time) {
	result, err := s.db.Exec("DELETE FROM generation_usage WHERE timestamp < ?", cutoff.Format(time.RFC3339Nano))
	if err != nil {
		slog.Error("failed to prune usage entries", "error", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		slog.Info("pruned expired usage entries", "deleted", n)
	}
}
