package inventory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/and161185/alurea-fulfillment/internal/errs"
)

// Memory is an in-process ledger. Each item has its own counter updated with
// compare-and-swap, so contention is per item and never global.
type Memory struct {
	items sync.Map // itemID -> *atomic.Int64
}

// NewMemory returns a ledger seeded with stock.
func NewMemory(stock map[string]int) *Memory {
	m := &Memory{}
	for id, qty := range stock {
		v := new(atomic.Int64)
		v.Store(int64(qty))
		m.items.Store(id, v)
	}
	return m
}

func (m *Memory) counter(itemID string) (*atomic.Int64, bool) {
	v, ok := m.items.Load(itemID)
	if !ok {
		return nil, false
	}
	return v.(*atomic.Int64), true
}

// Reserve implements Ledger.
func (m *Memory) Reserve(_ context.Context, itemID string, qty int) error {
	if qty <= 0 {
		return errs.ErrInvalidArgument
	}
	c, ok := m.counter(itemID)
	if !ok {
		return errs.ErrNotFound
	}
	want := int64(qty)
	for {
		cur := c.Load()
		if cur < want {
			return errs.ErrInsufficientStock
		}
		if c.CompareAndSwap(cur, cur-want) {
			return nil
		}
	}
}

// Release implements Ledger.
func (m *Memory) Release(_ context.Context, itemID string, qty int) error {
	if qty <= 0 {
		return errs.ErrInvalidArgument
	}
	c, ok := m.counter(itemID)
	if !ok {
		return errs.ErrNotFound
	}
	c.Add(int64(qty))
	return nil
}

// Available implements Ledger.
func (m *Memory) Available(_ context.Context, itemID string) (int, error) {
	c, ok := m.counter(itemID)
	if !ok {
		return 0, errs.ErrNotFound
	}
	return int(c.Load()), nil
}

// SetStock implements Ledger. Unknown items are created.
func (m *Memory) SetStock(_ context.Context, itemID string, qty int) error {
	if qty < 0 {
		return errs.ErrInvalidArgument
	}
	v, _ := m.items.LoadOrStore(itemID, new(atomic.Int64))
	v.(*atomic.Int64).Store(int64(qty))
	return nil
}
