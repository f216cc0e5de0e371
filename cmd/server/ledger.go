package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/alurea-fulfillment/internal/config"
	"github.com/and161185/alurea-fulfillment/internal/inventory"
	"github.com/and161185/alurea-fulfillment/internal/repository/postgres"
	grpcserver "github.com/and161185/alurea-fulfillment/internal/server/grpc"
)

// openedLedger is the selected stock backend with its probes and cleanup.
type openedLedger struct {
	inventory.Ledger
	probes []grpcserver.Probe
	close  func()
}

type seeder func(ctx context.Context, itemID string, qty int) (bool, error)

// openLedger builds the configured backend and applies seed stock to items that have none yet.
func openLedger(ctx context.Context, cfg config.Ledger, db *postgres.DB, log *zap.Logger) (*openedLedger, error) {
	switch cfg.Backend {
	case config.LedgerMemory:
		return &openedLedger{Ledger: inventory.NewMemory(cfg.Seed), close: func() {}}, nil

	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		r := inventory.NewRedis(client)
		if err := r.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		if err := seed(ctx, log, cfg.Seed, r.Seed); err != nil {
			_ = client.Close()
			return nil, err
		}
		return &openedLedger{
			Ledger: r,
			probes: []grpcserver.Probe{{Name: "redis", Check: r.Ping}},
			close:  func() { _ = client.Close() },
		}, nil

	default:
		pg := postgres.NewStockLedger(db)
		if err := seed(ctx, log, cfg.Seed, pg.Seed); err != nil {
			return nil, err
		}
		return &openedLedger{Ledger: pg, close: func() {}}, nil
	}
}

func seed(ctx context.Context, log *zap.Logger, stock map[string]int, fn seeder) error {
	for _, id := range slices.Sorted(maps.Keys(stock)) {
		created, err := fn(ctx, id, stock[id])
		if err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
		if created {
			log.Info("seeded stock", zap.String("item_id", id), zap.Int("stock", stock[id]))
		}
	}
	return nil
}
