package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/and161185/alurea-fulfillment/internal/errs"
)

func newRedisLedger(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestRedis_Reserve(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLedger(t)

	require.NoError(t, l.SetStock(ctx, "ring", 10))
	require.NoError(t, l.Reserve(ctx, "ring", 3))

	got, err := mr.Get("stock:ring")
	require.NoError(t, err)
	require.Equal(t, "7", got)

	require.ErrorIs(t, l.Reserve(ctx, "ring", 8), errs.ErrInsufficientStock)
	n, err := l.Available(ctx, "ring")
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func TestRedis_MissingKey(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLedger(t)

	require.ErrorIs(t, l.Reserve(ctx, "ghost", 1), errs.ErrNotFound)
	require.ErrorIs(t, l.Release(ctx, "ghost", 1), errs.ErrNotFound)
	_, err := l.Available(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRedis_Release(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLedger(t)

	require.NoError(t, l.SetStock(ctx, "ring", 1))
	require.NoError(t, l.Reserve(ctx, "ring", 1))
	require.NoError(t, l.Release(ctx, "ring", 1))

	n, err := l.Available(ctx, "ring")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRedis_SeedKeepsExisting(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLedger(t)

	set, err := l.Seed(ctx, "ring", 5)
	require.NoError(t, err)
	require.True(t, set)
	require.NoError(t, l.Reserve(ctx, "ring", 2))

	set, err = l.Seed(ctx, "ring", 5)
	require.NoError(t, err)
	require.False(t, set)

	n, err := l.Available(ctx, "ring")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRedis_ConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLedger(t)
	require.NoError(t, l.SetStock(ctx, "bracelet", 20))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve(ctx, "bracelet", 1) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(20), ok.Load())
	n, err := l.Available(ctx, "bracelet")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestRedis_ReserveAllRollback(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLedger(t)
	require.NoError(t, l.SetStock(ctx, "a", 2))
	require.NoError(t, l.SetStock(ctx, "b", 0))

	err := ReserveAll(ctx, l, []Line{{ItemID: "a", Quantity: 2}, {ItemID: "b", Quantity: 1}})
	require.ErrorIs(t, err, errs.ErrInsufficientStock)

	n, err := l.Available(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
