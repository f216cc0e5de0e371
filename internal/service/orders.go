package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/inventory"
	"github.com/and161185/alurea-fulfillment/internal/logging"
	"github.com/and161185/alurea-fulfillment/internal/model"
	"github.com/and161185/alurea-fulfillment/internal/notify"
	"github.com/and161185/alurea-fulfillment/internal/repository"
)

const tracerName = "github.com/and161185/alurea-fulfillment/internal/service"

// ProofStore keeps proof-of-delivery attachments. Implemented by *storage.Proofs.
type ProofStore interface {
	Save(r io.Reader) (string, error)
	Remove(name string) error
}

// EventPublisher announces order changes. Failures never fail the operation.
type EventPublisher interface {
	OrderChanged(ctx context.Context, ev notify.OrderEvent) error
}

// OrderRecorder receives order counters.
type OrderRecorder interface {
	Reservation(outcome string)
	Transition(status string)
}

type nopOrderRecorder struct{}

func (nopOrderRecorder) Reservation(string) {}
func (nopOrderRecorder) Transition(string)  {}

// CreateOrderInput is what a customer submits.
type CreateOrderInput struct {
	CustomerID    uuid.UUID
	Name          string
	Address       string
	Contact       string
	PaymentMethod string
	Items         []model.LineItem
	DropOff       model.DropOff
}

// OrderService places orders against the inventory ledger and drives their status.
type OrderService struct {
	orders repository.OrderRepository
	ledger inventory.Ledger
	proofs ProofStore
	events EventPublisher
	audit  repository.AuditRepository
	rec    OrderRecorder
	tracer trace.Tracer
	now    func() time.Time
}

// OrderOption customizes OrderService.
type OrderOption func(*OrderService)

// WithEvents publishes status changes.
func WithEvents(p EventPublisher) OrderOption {
	return func(s *OrderService) { s.events = p }
}

// WithOrderAudit records administrative deletes.
func WithOrderAudit(a repository.AuditRepository) OrderOption {
	return func(s *OrderService) { s.audit = a }
}

// WithOrderRecorder attaches a metrics sink.
func WithOrderRecorder(r OrderRecorder) OrderOption {
	return func(s *OrderService) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithOrderClock injects the time source.
func WithOrderClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

// NewOrderService constructs OrderService.
func NewOrderService(orders repository.OrderRepository, ledger inventory.Ledger, proofs ProofStore, opts ...OrderOption) *OrderService {
	s := &OrderService{
		orders: orders,
		ledger: ledger,
		proofs: proofs,
		rec:    nopOrderRecorder{},
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Money is stored as numeric(12, 2): cents precision, ten integer digits.
const moneyScale = 2

var maxTotal = decimal.New(1, 10)

func (in *CreateOrderInput) validate() error {
	var problems []string
	if strings.TrimSpace(in.Name) == "" {
		problems = append(problems, "name")
	}
	if strings.TrimSpace(in.Address) == "" {
		problems = append(problems, "address")
	}
	if strings.TrimSpace(in.Contact) == "" {
		problems = append(problems, "contact")
	}
	if len(in.Items) == 0 {
		problems = append(problems, "items")
	}
	for i, li := range in.Items {
		if li.ItemID == "" || li.Quantity <= 0 || li.UnitPrice.IsNegative() || !li.UnitPrice.Equal(li.UnitPrice.Round(moneyScale)) {
			problems = append(problems, fmt.Sprintf("items[%d]", i))
		}
	}
	if len(in.Items) > 0 && model.TotalOf(in.Items).GreaterThanOrEqual(maxTotal) {
		problems = append(problems, "total_amount")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid %s: %w", strings.Join(problems, ", "), errs.ErrInvalidArgument)
	}
	return nil
}

// Create reserves every line item, then persists the order as Pending.
// Any failure leaves stock exactly as it was.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (_ *model.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Create", trace.WithAttributes(
		attribute.Int("order.lines", len(in.Items)),
	))
	defer func() { endSpan(span, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}

	lines := make([]inventory.Line, len(in.Items))
	for i, li := range in.Items {
		lines[i] = inventory.Line{ItemID: li.ItemID, Quantity: li.Quantity}
	}
	if err := inventory.ReserveAll(ctx, s.ledger, lines); err != nil {
		s.rec.Reservation(reservationOutcome(err))
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, s.unwind(ctx, lines, err)
	}
	now := s.now().UTC()
	pm := strings.TrimSpace(in.PaymentMethod)
	if pm == "" {
		pm = model.DefaultPaymentMethod
	}
	o := &model.Order{
		ID:            id,
		CustomerID:    in.CustomerID,
		Name:          strings.TrimSpace(in.Name),
		Address:       strings.TrimSpace(in.Address),
		Contact:       strings.TrimSpace(in.Contact),
		PaymentMethod: pm,
		LineItems:     append([]model.LineItem(nil), in.Items...),
		TotalAmount:   model.TotalOf(in.Items),
		Status:        model.StatusPending,
		DropOff:       in.DropOff,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, s.unwind(ctx, lines, fmt.Errorf("persist order: %w", err))
	}
	s.rec.Reservation("ok")
	span.SetAttributes(attribute.String("order.id", o.ID.String()))

	s.publish(ctx, o)
	return o, nil
}

// unwind releases reservations made for an order that could not be committed.
func (s *OrderService) unwind(ctx context.Context, lines []inventory.Line, cause error) error {
	s.rec.Reservation("error")
	if rerr := inventory.ReleaseAll(ctx, s.ledger, lines); rerr != nil {
		return errors.Join(cause, rerr)
	}
	return cause
}

// Get loads one order.
func (s *OrderService) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return s.orders.Get(ctx, id)
}

// List returns orders newest first.
func (s *OrderService) List(ctx context.Context, f repository.OrderFilter) ([]*model.Order, error) {
	return s.orders.List(ctx, f)
}

// Advance moves an order one step forward. Delivered needs proofRef.
// The store applies the change only if nobody else moved the order first.
func (s *OrderService) Advance(ctx context.Context, id uuid.UUID, target model.OrderStatus, proofRef string) (_ *model.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Advance", trace.WithAttributes(
		attribute.String("order.id", id.String()),
		attribute.String("order.target", string(target)),
	))
	defer func() { endSpan(span, err) }()

	cur, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := next.Advance(target, proofRef, s.now().UTC()); err != nil {
		return nil, err
	}
	err = s.orders.UpdateStatus(ctx, repository.StatusChange{
		ID:       id,
		From:     cur.Status,
		To:       next.Status,
		ProofRef: next.ProofRef,
		At:       next.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	s.rec.Transition(string(next.Status))
	s.publish(ctx, next)
	return next, nil
}

// Deliver stores the proof and completes the order in one step.
// The proof is removed again if the transition is rejected.
func (s *OrderService) Deliver(ctx context.Context, id uuid.UUID, proof io.Reader) (*model.Order, error) {
	if proof == nil {
		return nil, errs.ErrMissingProof
	}
	cur, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.Status.CanAdvance(model.StatusDelivered) {
		return nil, errs.ErrInvalidTransition
	}

	name, err := s.proofs.Save(proof)
	if err != nil {
		return nil, fmt.Errorf("store proof: %w", err)
	}
	o, err := s.Advance(ctx, id, model.StatusDelivered, name)
	if err != nil {
		s.removeProof(ctx, name)
		return nil, err
	}
	return o, nil
}

// Delete removes an order administratively. Stock is not restored.
func (s *OrderService) Delete(ctx context.Context, actor string, id uuid.UUID) error {
	o, err := s.orders.Delete(ctx, id)
	if err != nil {
		return err
	}
	if o.ProofRef != "" {
		s.removeProof(ctx, o.ProofRef)
	}
	if s.audit != nil {
		e := model.AuditEntry{
			Action:      "order.delete",
			PerformedBy: actor,
			Target:      id.String(),
			Details:     fmt.Sprintf("status=%s total=%s", o.Status, o.TotalAmount.StringFixed(2)),
		}
		if err := s.audit.Append(ctx, e); err != nil {
			logging.FromContext(ctx).Warn("audit append failed", zap.String("action", e.Action), zap.Error(err))
		}
	}
	return nil
}

func (s *OrderService) removeProof(ctx context.Context, name string) {
	if err := s.proofs.Remove(name); err != nil {
		logging.FromContext(ctx).Warn("remove proof", zap.String("proof", name), zap.Error(err))
	}
}

func (s *OrderService) publish(ctx context.Context, o *model.Order) {
	if s.events == nil {
		return
	}
	ev := notify.OrderEvent{OrderID: o.ID.String(), Status: string(o.Status), ProofRef: o.ProofRef, At: o.UpdatedAt}
	if err := s.events.OrderChanged(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("publish order event", zap.String("order_id", ev.OrderID), zap.Error(err))
	}
}

func reservationOutcome(err error) string {
	switch {
	case errors.Is(err, errs.ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
