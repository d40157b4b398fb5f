// Package postgres implements the repositories on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// RunMigrations creates the rule and history tables if they do not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS distribution_rules (
			key TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			base_percentage NUMERIC(9,6) NOT NULL CHECK (base_percentage BETWEEN 0 AND 100),
			max_percentage NUMERIC(9,6) NOT NULL CHECK (max_percentage BETWEEN 0 AND 100),
			minimum_amount BIGINT,
			maximum_amount BIGINT,
			person_count INTEGER,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_by TEXT NOT NULL DEFAULT '',
			CHECK (base_percentage <= max_percentage)
		);

		CREATE TABLE IF NOT EXISTS distribution_records (
			id TEXT PRIMARY KEY,
			case_number TEXT NOT NULL DEFAULT '',
			computed_at TIMESTAMPTZ NOT NULL,
			computed_by TEXT NOT NULL DEFAULT '',
			overridden BOOLEAN NOT NULL DEFAULT FALSE,
			document JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_distribution_records_case ON distribution_records(case_number);
		CREATE INDEX IF NOT EXISTS idx_distribution_records_computed_at ON distribution_records(computed_at DESC);
	`)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
