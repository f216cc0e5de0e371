package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/alurea-fulfillment/internal/errs"
)

// StockLedger implements inventory.Ledger on the products table.
// The conditional UPDATE is the atomic check-and-decrement; a CHECK (stock >= 0)
// constraint backs it up.
type StockLedger struct{ db *DB }

// NewStockLedger constructs the ledger.
func NewStockLedger(db *DB) *StockLedger { return &StockLedger{db: db} }

// Reserve decrements stock only when enough is available.
func (l *StockLedger) Reserve(ctx context.Context, itemID string, qty int) error {
	if qty <= 0 {
		return errs.ErrInvalidArgument
	}
	const q = `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2`
	tag, err := l.db.Pool.Exec(ctx, q, itemID, qty)
	if err != nil {
		if isCheckViolation(err) {
			return errs.ErrInsufficientStock
		}
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := l.Available(ctx, itemID); err != nil {
		return err
	}
	return errs.ErrInsufficientStock
}

// Release adds qty back.
func (l *StockLedger) Release(ctx context.Context, itemID string, qty int) error {
	if qty <= 0 {
		return errs.ErrInvalidArgument
	}
	const q = `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`
	tag, err := l.db.Pool.Exec(ctx, q, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Available reads the current stock.
func (l *StockLedger) Available(ctx context.Context, itemID string) (int, error) {
	const q = `SELECT stock FROM products WHERE id = $1`
	var n int
	err := l.db.Pool.QueryRow(ctx, q, itemID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.ErrNotFound
	}
	return n, err
}

// SetStock upserts the absolute stock level.
func (l *StockLedger) SetStock(ctx context.Context, itemID string, qty int) error {
	if qty < 0 {
		return errs.ErrInvalidArgument
	}
	const q = `
INSERT INTO products (id, stock) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET stock = EXCLUDED.stock, updated_at = now()`
	_, err := l.db.Pool.Exec(ctx, q, itemID, qty)
	return err
}

// Seed inserts qty only for items without a row, so restarts keep live stock.
func (l *StockLedger) Seed(ctx context.Context, itemID string, qty int) (bool, error) {
	if qty < 0 {
		return false, errs.ErrInvalidArgument
	}
	const q = `INSERT INTO products (id, stock) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
	tag, err := l.db.Pool.Exec(ctx, q, itemID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
