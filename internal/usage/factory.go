package usage

import (
	"context"
	"errors"
	"fmt"

	"genrouter/config"
	"genrouter/internal/storage"
)

// Result pairs the usage logger with the database it writes to.
type Result struct {
	Logger LoggerInterface
	// DB is nil when usage persistence is disabled.
	DB *storage.DB
}

// Close drains the logger, then closes the database. It is safe to call twice.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.DB = nil
	}
	return errors.Join(errs...)
}

// New opens the configured backend and starts the async logger. With usage
// disabled it returns a NoopLogger and opens nothing.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if !cfg.Usage.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}

	db, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage storage: %w", err)
	}

	store, err := openStore(ctx, db, cfg.Usage.RetentionDays)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &Result{
		Logger: NewLogger(store, loggerConfig(cfg.Usage)),
		DB:     db,
	}, nil
}

func openStore(ctx context.Context, db *storage.DB, retentionDays int) (UsageStore, error) {
	switch db.Backend() {
	case storage.BackendPostgreSQL:
		return NewPostgreSQLStore(ctx, db.Pool(), retentionDays)
	case storage.BackendMongoDB:
		return NewMongoDBStore(ctx, db.Mongo(), retentionDays)
	case storage.BackendSQLite:
		return NewSQLiteStore(db.SQL(), retentionDays)
	default:
		return nil, fmt.Errorf("no usage store for backend %q", db.Backend())
	}
}

func loggerConfig(u config.UsageConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = u.Enabled
	cfg.RetentionDays = u.RetentionDays
	if u.BufferSize > 0 {
		cfg.BufferSize = u.BufferSize
	}
	if u.FlushInterval > 0 {
		cfg.FlushInterval = u.FlushInterval
	}
	return cfg
}
