// Package storage opens the database that usage records are written to.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"genrouter/config"
)

// Backend names accepted in storage.type.
const (
	BackendSQLite     = "sqlite"
	BackendPostgreSQL = "postgresql"
	BackendMongoDB    = "mongodb"
)

const (
	defaultSQLitePath    = "data/genrouter.db"
	defaultMongoDatabase = "genrouter"
	defaultPoolSize      = 10
)

// DB is an open connection to a single backend. Only the handle that matches
// Backend is non-nil.
type DB struct {
	backend  string
	sqlDB    *sql.DB
	pool     *pgxpool.Pool
	client   *mongo.Client
	database *mongo.Database
}

// Open connects to the backend named by cfg.Type and checks that it answers.
// An empty type selects SQLite.
func Open(ctx context.Context, cfg config.StorageConfig) (*DB, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLite.Path)
	case BackendPostgreSQL, "postgres":
		return OpenPostgreSQL(ctx, cfg.PostgreSQL.URL, cfg.PostgreSQL.MaxConns)
	case BackendMongoDB, "mongo":
		return OpenMongoDB(ctx, cfg.MongoDB.URL, cfg.MongoDB.Database)
	default:
		return nil, fmt.Errorf("unknown storage type %q (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
}

// Backend reports which driver is behind the connection.
func (d *DB) Backend() string { return d.backend }

// SQL returns the SQLite handle.
func (d *DB) SQL() *sql.DB { return d.sqlDB }

// Pool returns the PostgreSQL pool.
func (d *DB) Pool() *pgxpool.Pool { return d.pool }

// Mongo returns the selected MongoDB database.
func (d *DB) Mongo() *mongo.Database { return d.database }

// Close releases the connection. It is safe on a nil DB.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.sqlDB != nil {
		errs = append(errs, d.sqlDB.Close())
	}
	if d.pool != nil {
		d.pool.Close()
	}
	if d.client != nil {
		errs = append(errs, d.client.Disconnect(context.Background()))
	}
	return errors.Join(errs...)
}
