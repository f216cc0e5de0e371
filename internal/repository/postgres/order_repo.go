package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/model"
	"github.com/and161185/alurea-fulfillment/internal/repository"
)

// OrderRepo implements repository.OrderRepository. Line items are stored as jsonb and
// money as numeric; amounts cross the driver as text to keep decimal precision.
type OrderRepo struct{ db *DB }

// NewOrderRepo constructs an order repository.
func NewOrderRepo(db *DB) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `id, customer_id, name, address, contact, payment_method, items,
total_amount::text, status, drop_lat, drop_lon, proof_ref, created_at, updated_at`

// Create inserts a new order row.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	const q = `
INSERT INTO orders (id, customer_id, name, address, contact, payment_method, items,
                    total_amount, status, drop_lat, drop_lon, proof_ref, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14)`
	_, err = r.db.Pool.Exec(ctx, q,
		o.ID, o.CustomerID, o.Name, o.Address, o.Contact, o.PaymentMethod, string(items),
		o.TotalAmount.String(), string(o.Status), o.DropOff.Lat, o.DropOff.Lon, o.ProofRef,
		o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects one order.
func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	o, err := scanOrder(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return o, err
}

// List returns orders newest first, filtered by f.
func (r *OrderRepo) List(ctx context.Context, f repository.OrderFilter) ([]*model.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.CustomerID != uuid.Nil {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id=$%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + orderColumns + ` FROM orders`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateStatus locks the row, checks the expected status and applies the change.
func (r *OrderRepo) UpdateStatus(ctx context.Context, c repository.StatusChange) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		const sel = `SELECT status FROM orders WHERE id=$1 FOR UPDATE`
		var cur string
		if err := tx.QueryRow(ctx, sel, c.ID).Scan(&cur); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}
		if model.OrderStatus(cur) != c.From {
			return errs.ErrConflict
		}
		const upd = `UPDATE orders SET status=$2, proof_ref=$3, updated_at=$4 WHERE id=$1`
		_, err := tx.Exec(ctx, upd, c.ID, string(c.To), c.ProofRef, c.At)
		return err
	})
}

// Delete removes an order and returns the deleted row.
func (r *OrderRepo) Delete(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	q := `DELETE FROM orders WHERE id=$1 RETURNING ` + orderColumns
	o, err := scanOrder(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return o, err
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		items  []byte
		total  string
		status string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.Name, &o.Address, &o.Contact, &o.PaymentMethod, &items,
		&total, &status, &o.DropOff.Lat, &o.DropOff.Lon, &o.ProofRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.LineItems); err != nil {
		return nil, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	st, ok := model.ParseOrderStatus(status)
	if !ok {
		return nil, fmt.Errorf("order %s: unknown status %q", o.ID, status)
	}
	o.Status = st
	return &o, nil
}
