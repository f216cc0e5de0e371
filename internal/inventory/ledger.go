// Package inventory defines the stock ledger contract and the multi-line reservation protocol.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/logging"
)

// Ledger is the authoritative available-stock store.
type Ledger interface {
	// Reserve atomically decrements stock by qty if the result stays >= 0.
	// It returns errs.ErrInsufficientStock when it would not, errs.ErrNotFound for unknown items.
	Reserve(ctx context.Context, itemID string, qty int) error
	// Release re-increments stock after a reservation that must be undone.
	Release(ctx context.Context, itemID string, qty int) error
	// Available returns the current stock.
	Available(ctx context.Context, itemID string) (int, error)
	// SetStock overwrites stock (administrative restock).
	SetStock(ctx context.Context, itemID string, qty int) error
}

// Line is a single reservation request.
type Line struct {
	ItemID   string
	Quantity int
}

// StockError names the item that could not be reserved.
type StockError struct {
	ItemID string
	Err    error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("item %s: %v", e.ItemID, e.Err)
}

func (e *StockError) Unwrap() error { return e.Err }

// ReserveAll reserves lines in order. If any line fails, every earlier reservation
// is released before returning, so a failed call leaves no net stock change.
func ReserveAll(ctx context.Context, l Ledger, lines []Line) error {
	for i, ln := range lines {
		if ln.Quantity <= 0 {
			return errors.Join(
				&StockError{ItemID: ln.ItemID, Err: errs.ErrInvalidArgument},
				ReleaseAll(ctx, l, lines[:i]),
			)
		}
		if err := l.Reserve(ctx, ln.ItemID, ln.Quantity); err != nil {
			return errors.Join(
				&StockError{ItemID: ln.ItemID, Err: err},
				ReleaseAll(ctx, l, lines[:i]),
			)
		}
	}
	return nil
}

// ReleaseAll undoes reservations for lines in reverse order. It attempts every line and
// reports the failures together. The rollback must not be cancelled half-way, so the
// caller's cancellation is detached.
func ReleaseAll(ctx context.Context, l Ledger, lines []Line) error {
	ctx = context.WithoutCancel(ctx)
	var failed []error
	for i := len(lines) - 1; i >= 0; i-- {
		ln := lines[i]
		if err := l.Release(ctx, ln.ItemID, ln.Quantity); err != nil {
			logging.FromContext(ctx).Error("stock rollback failed",
				zap.String("item_id", ln.ItemID),
				zap.Int("quantity", ln.Quantity),
				zap.Error(err),
			)
			failed = append(failed, fmt.Errorf("release %s: %w", ln.ItemID, err))
		}
	}
	return errors.Join(failed...)
}
