package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/alurea-fulfillment/internal/model"
)

// OrderFilter narrows List. Zero values mean "any".
type OrderFilter struct {
	Status     model.OrderStatus
	CustomerID uuid.UUID
	Limit      int
}

// StatusChange is a compare-and-set update of an order's status.
type StatusChange struct {
	ID       uuid.UUID
	From     model.OrderStatus
	To       model.OrderStatus
	ProofRef string
	At       time.Time
}

// OrderRepository is the order store.
type OrderRepository interface {
	// Create inserts a new order.
	Create(ctx context.Context, o *model.Order) error
	// Get loads one order.
	Get(ctx context.Context, id uuid.UUID) (*model.Order, error)
	// List returns orders newest first.
	List(ctx context.Context, f OrderFilter) ([]*model.Order, error)
	// UpdateStatus applies c only if the stored status still equals c.From.
	// It returns ErrNotFound for unknown ids and ErrConflict when the status moved.
	UpdateStatus(ctx context.Context, c StatusChange) error
	// Delete removes an order and returns what was deleted.
	Delete(ctx context.Context, id uuid.UUID) (*model.Order, error)
}
