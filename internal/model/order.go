package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/and161185/alurea-fulfillment/internal/errs"
)

// OrderStatus is a delivery lifecycle state. Transitions only move forward.
type OrderStatus string

const (
	StatusPending    OrderStatus = "Pending"
	StatusDelivering OrderStatus = "Delivering"
	StatusDelivered  OrderStatus = "Delivered"
)

// DefaultPaymentMethod is applied when an order does not name one.
const DefaultPaymentMethod = "Cash on Delivery"

// next holds the single forward edge of every non-terminal state.
// Pending -> Delivered is deliberately absent.
var next = map[OrderStatus]OrderStatus{
	StatusPending:    StatusDelivering,
	StatusDelivering: StatusDelivered,
}

// ParseOrderStatus validates a client supplied status name.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(s); st {
	case StatusPending, StatusDelivering, StatusDelivered:
		return st, true
	}
	return "", false
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	_, ok := next[s]
	return !ok
}

// CanAdvance reports whether target directly follows s.
func (s OrderStatus) CanAdvance(target OrderStatus) bool {
	n, ok := next[s]
	return ok && n == target
}

// LineItem is one ordered product line. UnitPrice is captured at order time.
type LineItem struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal returns quantity x unit price.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// DropOff is the delivery destination.
type DropOff struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Order is a placed customer order.
type Order struct {
	ID            uuid.UUID
	CustomerID    uuid.UUID // user that placed it; uuid.Nil when unknown
	Name          string
	Address       string
	Contact       string
	PaymentMethod string
	LineItems     []LineItem
	TotalAmount   decimal.Decimal // fixed at creation
	Status        OrderStatus
	DropOff       DropOff
	ProofRef      string // attachment name; set only with Delivered
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TotalOf sums the subtotals of lines.
func TotalOf(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range lines {
		total = total.Add(li.Subtotal())
	}
	return total
}

// Advance applies a status transition in place. On error o is left untouched.
func (o *Order) Advance(target OrderStatus, proofRef string, now time.Time) error {
	if !o.Status.CanAdvance(target) {
		return errs.ErrInvalidTransition
	}
	if target == StatusDelivered {
		if proofRef == "" {
			return errs.ErrMissingProof
		}
		o.ProofRef = proofRef
	}
	o.Status = target
	o.UpdatedAt = now
	return nil
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	c := *o
	c.LineItems = append([]LineItem(nil), o.LineItems...)
	return &c
}
