package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/timeflow/timeflow-backend/pkg/config"
	"github.com/timeflow/timeflow-backend/pkg/logger"
)

// DB is the pool behind the overtime ledger. Repositories reach it through
// Querier, which prefers the tenant transaction carried by the context.
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// New opens the ledger database and sizes its pool.
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to overtime database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return Wrap(db, log), nil
}

// Wrap builds a DB around an existing connection. Tests use it with sqlmock.
func Wrap(db *sqlx.DB, log *logger.Logger) *DB {
	if log == nil {
		log = logger.Nop()
	}
	return &DB{DB: db, logger: log}
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health pings the ledger database for /health.
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{"status": "up"}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Transaction runs fn in a transaction and rolls it back when fn fails.
// Tenant-scoped work goes through WithTenantRLS instead.
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return MapError(fmt.Errorf("failed to begin ledger transaction: %w", err))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to roll back ledger transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return MapError(fmt.Errorf("failed to commit ledger transaction: %w", err))
	}

	return nil
}
