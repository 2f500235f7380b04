// Package database opens the pgx pool behind the PostgreSQL store and applies
// its schema.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options sizes the pool. Zero durations take the package defaults.
type Options struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DB wraps a pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// ParseURL validates a PostgreSQL connection URL.
func ParseURL(url string) (*pgxpool.Config, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	return cfg, nil
}

// New creates a connection pool and pings it.
func New(ctx context.Context, o Options) (*DB, error) {
	cfg, err := ParseURL(o.URL)
	if err != nil {
		return nil, err
	}
	if o.MaxConns < 0 || o.MinConns < 0 {
		return nil, fmt.Errorf("pool sizes must not be negative")
	}
	if o.MaxConns > 0 {
		if o.MinConns > o.MaxConns {
			return nil, fmt.Errorf("min conns %d exceeds max conns %d", o.MinConns, o.MaxConns)
		}
		cfg.MaxConns = int32(o.MaxConns)
	}
	cfg.MinConns = int32(o.MinConns)
	cfg.MaxConnLifetime = orDefault(o.MaxConnLifetime, 30*time.Minute)
	cfg.MaxConnIdleTime = orDefault(o.MaxConnIdleTime, 5*time.Minute)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate applies schema in a single transaction. The schema must be
// idempotent; it runs on every startup.
func (db *DB) Migrate(ctx context.Context, schema string) error {
	if strings.TrimSpace(schema) == "" {
		return fmt.Errorf("schema is empty")
	}
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
