package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps counters in the attempt_limits table: a fixed window of failures followed by a lockout.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over a pool or a pgxmock in tests.
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow implements Limiter.
func (l *PG) Allow(ctx context.Context, scope, identity string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM attempt_limits WHERE scope=$1 AND identity=$2 AND ip_hash=$3`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, scope, identity, ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if left := blockedUntil.Sub(l.now()); left > 0 {
			return false, left, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success implements Limiter.
func (l *PG) Success(ctx context.Context, scope, identity string, ipHash []byte) error {
	const q = `DELETE FROM attempt_limits WHERE scope=$1 AND identity=$2 AND ip_hash=$3`
	_, err := l.pool.Exec(ctx, q, scope, identity, ipHash)
	return err
}

// Failure implements Limiter. The counter restarts when the previous failure is older than the window.
func (l *PG) Failure(ctx context.Context, scope, identity string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO attempt_limits (scope, identity, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, $3, 1, 'epoch', now())
ON CONFLICT (scope, identity, ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN now() - attempt_limits.updated_at > $4 * interval '1 second'
                    THEN 1 ELSE attempt_limits.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, scope, identity, ipHash, int64(l.window/time.Second)).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}

	const upd = `UPDATE attempt_limits SET blocked_until=$4, fail_count=0 WHERE scope=$1 AND identity=$2 AND ip_hash=$3`
	if _, err := l.pool.Exec(ctx, upd, scope, identity, ipHash, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
