// Package postgres stores paired devices and admin data in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// Conn is the part of *pgxpool.Pool the repositories run statements on.
// pgxmock.PgxPoolIface satisfies it in tests.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB is shared by the device and data repositories and the PG limiter.
type DB struct{ Conn Conn }

// Options tune Open. Zero values keep the pgxpool defaults.
type Options struct {
	MaxConns int32
	// PingAttempts bounds the startup connectivity check; at least one.
	PingAttempts uint64
	PingBackoff  time.Duration
}

// Open parses dsn, applies opts and waits until the database answers a ping.
func Open(ctx context.Context, dsn string, opts Options) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := ping(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Conn: pool}, nil
}

func ping(ctx context.Context, c Conn, opts Options) error {
	if opts.PingBackoff <= 0 {
		opts.PingBackoff = 200 * time.Millisecond
	}
	tries := opts.PingAttempts
	if tries == 0 {
		tries = 1
	}
	b := retry.WithMaxRetries(tries-1, retry.NewExponential(opts.PingBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := c.Ping(ctx); err != nil {
			return retry.RetryableError(fmt.Errorf("ping: %w", err))
		}
		return nil
	})
}

func (db *DB) Close() { db.Conn.Close() }

func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == uniqueViolation
}
