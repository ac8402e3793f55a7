// Package dbpool provides a pooled database connection and the single-
// transaction helper every batch write in this loader goes through.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nz-health/extract-loader/internal/errs"
)

const postgresDriver = "postgres"

// Config configures a pooled connection.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}

	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}

	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}

	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}

	return c
}

// Connection wraps a pooled *sql.DB with the health-check and transaction
// conveniences every write path in this loader relies on.
type Connection struct {
	*sql.DB
}

// Open opens a pooled connection and verifies it with an immediate ping.
func Open(cfg Config) (*Connection, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open(postgresDriver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("dbpool: ping: %w", err)
	}

	return &Connection{db}, nil
}

// HealthCheck pings the pool with a bounded timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	return c.PingContext(ctx)
}

// Close closes the pool. Safe to call multiple times.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// Stats exposes pool statistics for monitoring.
func (c *Connection) Stats() sql.DBStats {
	return c.DB.Stats()
}

// Transaction runs fn inside a BEGIN/COMMIT block, rolling back on any
// error fn returns (or panic) and always releasing the connection back to
// the pool. Every batch insert/upsert and every rejection flush in this
// loader goes through this helper: spec.md guarantees atomicity at the
// single-batch granularity, never across batches.
func (c *Connection) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, beginErr := c.BeginTx(ctx, nil)
	if beginErr != nil {
		return errs.ClassifyDatabaseError(beginErr)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("dbpool: rollback failed: %v, original error: %w", rbErr, err)
		}

		return err
	}

	if err = tx.Commit(); err != nil {
		return errs.ClassifyDatabaseError(err)
	}

	return nil
}
