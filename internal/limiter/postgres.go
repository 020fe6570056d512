package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps failure counters in the auth_limiter table.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over any pool or mock.
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE client_key=$1`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, key).Scan(&blockedUntil)
	switch {
	case err == nil:
		if blockedUntil.After(time.Now()) {
			return false, time.Until(blockedUntil), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for key.
func (l *PG) Success(ctx context.Context, key string) error {
	const q = `
INSERT INTO auth_limiter (client_key, fail_count, blocked_until, updated_at)
VALUES ($1,0,'epoch',now())
ON CONFLICT (client_key)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, key)
	return err
}

// Failure records a failed attempt. The counter restarts when the previous
// failure is older than the window; reaching maxFails blocks the key in the
// same statement.
func (l *PG) Failure(ctx context.Context, key string) (bool, time.Duration, error) {
	const q = `
INSERT INTO auth_limiter AS a (client_key, fail_count, blocked_until, updated_at)
VALUES ($1, 1, CASE WHEN $3 <= 1 THEN now() + $4::interval ELSE 'epoch'::timestamptz END, now())
ON CONFLICT (client_key) DO UPDATE
SET
  fail_count = CASE WHEN now() - a.updated_at > $2::interval THEN 1 ELSE a.fail_count + 1 END,
  blocked_until = CASE
    WHEN (CASE WHEN now() - a.updated_at > $2::interval THEN 1 ELSE a.fail_count + 1 END) >= $3
    THEN now() + $4::interval
    ELSE a.blocked_until END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, key, l.window, l.maxFails, l.blockFor).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails >= l.maxFails {
		return true, l.blockFor, nil
	}
	return false, 0, nil
}

// Prune deletes keys that are neither blocked nor inside a failure window.
func (l *PG) Prune(ctx context.Context) (int64, error) {
	const q = `DELETE FROM auth_limiter WHERE blocked_until < now() AND updated_at < now() - $1::interval`
	tag, err := l.pool.Exec(ctx, q, l.window)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
