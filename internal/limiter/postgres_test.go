package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newLimiter(t *testing.T, maxFails int) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	l := NewPG(mock, 15*time.Minute, maxFails, 10*time.Minute)
	l.now = func() time.Time { return now }
	return l, mock
}

const selectBlocked = `SELECT blocked_until FROM attempt_limits WHERE scope=\$1 AND identity=\$2 AND ip_hash=\$3`

func TestAllow_NoRow(t *testing.T) {
	l, mock := newLimiter(t, 5)
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(selectBlocked).WithArgs(ScopeOTP, "a@b.c", ip).WillReturnError(pgx.ErrNoRows)

	ok, wait, err := l.Allow(context.Background(), ScopeOTP, "a@b.c", ip)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, wait)
}

func TestAllow_Blocked(t *testing.T) {
	l, mock := newLimiter(t, 5)
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(selectBlocked).WithArgs(ScopePassword, "a@b.c", ip).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(4 * time.Minute)))

	ok, wait, err := l.Allow(context.Background(), ScopePassword, "a@b.c", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 4*time.Minute, wait)
}

func TestAllow_ExpiredBlock(t *testing.T) {
	l, mock := newLimiter(t, 5)
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(selectBlocked).WithArgs(ScopeOTP, "a@b.c", ip).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(-time.Second)))

	ok, _, err := l.Allow(context.Background(), ScopeOTP, "a@b.c", ip)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAllow_DBError(t *testing.T) {
	l, mock := newLimiter(t, 5)
	boom := errors.New("db down")

	mock.ExpectQuery(selectBlocked).WithArgs(ScopeOTP, "a@b.c", pgxmock.AnyArg()).WillReturnError(boom)

	ok, _, err := l.Allow(context.Background(), ScopeOTP, "a@b.c", nil)
	require.ErrorIs(t, err, boom)
	require.False(t, ok)
}

func TestSuccess_ClearsRow(t *testing.T) {
	l, mock := newLimiter(t, 5)
	ip := HashIP("10.0.0.1")

	mock.ExpectExec(`DELETE FROM attempt_limits WHERE scope=\$1 AND identity=\$2 AND ip_hash=\$3`).
		WithArgs(ScopeOTP, "a@b.c", ip).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, l.Success(context.Background(), ScopeOTP, "a@b.c", ip))
}

func TestFailure_BelowThreshold(t *testing.T) {
	l, mock := newLimiter(t, 5)
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(`INSERT INTO attempt_limits`).
		WithArgs(ScopeOTP, "a@b.c", ip, int64(15*60)).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(4))

	blocked, wait, err := l.Failure(context.Background(), ScopeOTP, "a@b.c", ip)
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, wait)
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	l, mock := newLimiter(t, 5)
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(`INSERT INTO attempt_limits`).
		WithArgs(ScopeOTP, "a@b.c", ip, int64(15*60)).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(5))
	mock.ExpectExec(`UPDATE attempt_limits SET blocked_until=\$4, fail_count=0`).
		WithArgs(ScopeOTP, "a@b.c", ip, now.Add(10*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	blocked, wait, err := l.Failure(context.Background(), ScopeOTP, "a@b.c", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, wait)
}

func TestFailure_QueryError(t *testing.T) {
	l, mock := newLimiter(t, 5)

	mock.ExpectQuery(`INSERT INTO attempt_limits`).WillReturnError(errors.New("boom"))

	_, _, err := l.Failure(context.Background(), ScopePassword, "a@b.c", nil)
	require.Error(t, err)
}

func TestHashIP(t *testing.T) {
	a := HashIP("1.2.3.4")
	require.Len(t, a, 32)
	require.Equal(t, a, HashIP("1.2.3.4"))
	require.NotEqual(t, a, HashIP("5.6.7.8"))
}
