package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/alurea-fulfillment/internal/errs"
)

const stockKeyPrefix = "stock:"

// reserveScript returns -1 for a missing key, 0 when stock is short, 1 on success.
var reserveScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return -1
end

local quantity = tonumber(ARGV[1])
if tonumber(current) >= quantity then
	redis.call('DECRBY', KEYS[1], quantity)
	return 1
end

return 0
`)

// releaseScript only increments existing keys so a rollback never invents stock.
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('INCRBY', KEYS[1], ARGV[1])
`)

// Redis keeps stock counters in Redis; the Lua scripts make check-and-decrement atomic.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps a go-redis client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func stockKey(itemID string) string { return stockKeyPrefix + itemID }

// Reserve implements Ledger.
func (r *Redis) Reserve(ctx context.Context, itemID string, qty int) error {
	if qty <= 0 {
		return errs.ErrInvalidArgument
	}
	res, err := reserveScript.Run(ctx, r.client, []string{stockKey(itemID)}, qty).Int()
	if err != nil {
		return fmt.Errorf("reserve script: %w", err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return errs.ErrNotFound
	default:
		return errs.ErrInsufficientStock
	}
}

// Release implements Ledger.
func (r *Redis) Release(ctx context.Context, itemID string, qty int) error {
	if qty <= 0 {
		return errs.ErrInvalidArgument
	}
	res, err := releaseScript.Run(ctx, r.client, []string{stockKey(itemID)}, qty).Int()
	if err != nil {
		return fmt.Errorf("release script: %w", err)
	}
	if res == -1 {
		return errs.ErrNotFound
	}
	return nil
}

// Available implements Ledger.
func (r *Redis) Available(ctx context.Context, itemID string) (int, error) {
	n, err := r.client.Get(ctx, stockKey(itemID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, errs.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SetStock implements Ledger.
func (r *Redis) SetStock(ctx context.Context, itemID string, qty int) error {
	if qty < 0 {
		return errs.ErrInvalidArgument
	}
	return r.client.Set(ctx, stockKey(itemID), qty, 0).Err()
}

// Seed writes qty only when the item has no counter yet, so restarts keep live stock.
func (r *Redis) Seed(ctx context.Context, itemID string, qty int) (bool, error) {
	return r.client.SetNX(ctx, stockKey(itemID), qty, 0).Result()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
