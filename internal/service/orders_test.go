package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/inventory"
	"github.com/and161185/alurea-fulfillment/internal/model"
	"github.com/and161185/alurea-fulfillment/internal/repository"
)

type orderFixture struct {
	svc    *OrderService
	orders *fakeOrders
	ledger *inventory.Memory
	proofs *fakeProofs
	events *fakeEvents
	audit  *fakeAudit
	rec    *fakeRecorder
}

func newOrderFixture(t *testing.T, stock map[string]int) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders: newFakeOrders(),
		ledger: inventory.NewMemory(stock),
		proofs: newFakeProofs(),
		events: &fakeEvents{},
		audit:  &fakeAudit{},
		rec:    &fakeRecorder{},
	}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	f.svc = NewOrderService(f.orders, f.ledger, f.proofs,
		WithEvents(f.events), WithOrderAudit(f.audit), WithOrderRecorder(f.rec),
		WithOrderClock(func() time.Time { return now }))
	return f
}

func (f *orderFixture) stock(t *testing.T, id string) int {
	t.Helper()
	n, err := f.ledger.Available(context.Background(), id)
	require.NoError(t, err)
	return n
}

func input(items ...model.LineItem) CreateOrderInput {
	return CreateOrderInput{
		CustomerID: uuid.Must(uuid.NewV4()),
		Name:       "Ana",
		Address:    "12 Rizal St, Quezon City",
		Contact:    "0917 000 0000",
		Items:      items,
		DropOff:    model.DropOff{Lat: 14.6, Lon: 121.0},
	}
}

func line(id string, qty int, price string) model.LineItem {
	return model.LineItem{ItemID: id, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func TestCreate_ReservesAndPersists(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5, "chain": 2})
	ctx := context.Background()

	o, err := f.svc.Create(ctx, input(line("ring", 2, "1499.50"), line("chain", 1, "899")))
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, o.Status)
	require.Equal(t, model.DefaultPaymentMethod, o.PaymentMethod)
	require.True(t, decimal.RequireFromString("3898").Equal(o.TotalAmount), o.TotalAmount.String())

	require.Equal(t, 3, f.stock(t, "ring"))
	require.Equal(t, 1, f.stock(t, "chain"))

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, o.ID, stored.ID)
	require.Equal(t, []string{"ok"}, f.rec.reservations)
	require.Len(t, f.events.events, 1)
	require.Equal(t, "Pending", f.events.events[0].Status)
}

func TestCreate_InsufficientStockLeavesLedgerUnchanged(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5, "chain": 1})

	_, err := f.svc.Create(context.Background(), input(line("ring", 2, "10"), line("chain", 3, "10")))
	require.ErrorIs(t, err, errs.ErrInsufficientStock)

	var se *inventory.StockError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "chain", se.ItemID)

	require.Equal(t, 5, f.stock(t, "ring"))
	require.Equal(t, 1, f.stock(t, "chain"))
	require.Empty(t, f.orders.byID)
	require.Equal(t, []string{"insufficient"}, f.rec.reservations)
}

func TestCreate_UnknownItem(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})

	_, err := f.svc.Create(context.Background(), input(line("ring", 1, "10"), line("ghost", 1, "10")))
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, 5, f.stock(t, "ring"))
}

func TestCreate_PersistFailureReleasesStock(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	boom := errors.New("db unavailable")
	f.orders.createErr = boom

	_, err := f.svc.Create(context.Background(), input(line("ring", 4, "10")))
	require.ErrorIs(t, err, boom)
	require.Equal(t, 5, f.stock(t, "ring"))
	require.Equal(t, []string{"error"}, f.rec.reservations)
	require.Empty(t, f.events.events)
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, input())
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = f.svc.Create(ctx, input(line("ring", 0, "10")))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = f.svc.Create(ctx, input(line("ring", 1, "-1")))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = f.svc.Create(ctx, input(line("ring", 1, "1.005")))
	require.ErrorIs(t, err, errs.ErrInvalidArgument, "sub-cent prices would be rounded by the store")

	_, err = f.svc.Create(ctx, input(line("ring", 2, "5000000000")))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	require.Contains(t, err.Error(), "total_amount")

	o, err := f.svc.Create(ctx, input(line("ring", 1, "1.500")))
	require.NoError(t, err, "trailing zeros are fine")
	require.True(t, o.TotalAmount.Equal(decimal.RequireFromString("1.5")))

	in := input(line("ring", 1, "10"))
	in.Address = "  "
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	require.True(t, strings.Contains(err.Error(), "address"))

	require.Equal(t, 4, f.stock(t, "ring"))
}

func TestCreate_LastUnitSoldOnce(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"pendant": 1})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Create(context.Background(), input(line("pendant", 1, "500")))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, errs.ErrInsufficientStock) {
				fail++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, 1, fail)
	require.Equal(t, 0, f.stock(t, "pendant"))
	require.Len(t, f.orders.byID, 1)
}

func TestCreate_ConcurrentNeverOversells(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"a": 30, "b": 30})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Create(context.Background(), input(line("a", 1, "1"), line("b", 1, "1")))
		}()
	}
	wg.Wait()

	placed := len(f.orders.byID)
	require.Equal(t, 30, placed)
	require.Equal(t, 0, f.stock(t, "a"))
	require.Equal(t, 0, f.stock(t, "b"))
}

func placed(t *testing.T, f *orderFixture) *model.Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), input(line("ring", 1, "100")))
	require.NoError(t, err)
	return o
}

func TestAdvance_HappyPath(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	ctx := context.Background()
	o := placed(t, f)

	got, err := f.svc.Advance(ctx, o.ID, model.StatusDelivering, "")
	require.NoError(t, err)
	require.Equal(t, model.StatusDelivering, got.Status)

	got, err = f.svc.Advance(ctx, o.ID, model.StatusDelivered, "proof-x.jpg")
	require.NoError(t, err)
	require.Equal(t, model.StatusDelivered, got.Status)
	require.Equal(t, "proof-x.jpg", got.ProofRef)

	require.Equal(t, []string{"Delivering", "Delivered"}, f.rec.transitions)
	require.Equal(t, 4, f.stock(t, "ring"), "only creation touches stock")
}

func TestAdvance_Rejections(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	ctx := context.Background()
	o := placed(t, f)

	_, err := f.svc.Advance(ctx, o.ID, model.StatusDelivered, "proof-x.jpg")
	require.ErrorIs(t, err, errs.ErrInvalidTransition, "Pending cannot skip to Delivered")

	_, err = f.svc.Advance(ctx, o.ID, model.StatusDelivering, "")
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, o.ID, model.StatusDelivered, "")
	require.ErrorIs(t, err, errs.ErrMissingProof)
	cur, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusDelivering, cur.Status, "status unchanged")

	_, err = f.svc.Advance(ctx, o.ID, model.StatusDelivering, "")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = f.svc.Advance(ctx, o.ID, model.StatusDelivered, "p.jpg")
	require.NoError(t, err)
	for _, target := range []model.OrderStatus{model.StatusPending, model.StatusDelivering, model.StatusDelivered} {
		_, err = f.svc.Advance(ctx, o.ID, target, "p.jpg")
		require.ErrorIs(t, err, errs.ErrInvalidTransition, "nothing leaves Delivered")
	}

	_, err = f.svc.Advance(ctx, uuid.Must(uuid.NewV4()), model.StatusDelivering, "")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAdvance_ConcurrentWriterWins(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	o := placed(t, f)

	f.orders.beforeUpdate = func(stored *model.Order) { stored.Status = model.StatusDelivering }
	_, err := f.svc.Advance(context.Background(), o.ID, model.StatusDelivering, "")
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Empty(t, f.rec.transitions)
}

func TestDeliver(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	ctx := context.Background()
	o := placed(t, f)

	_, err := f.svc.Deliver(ctx, o.ID, strings.NewReader("jpeg"))
	require.ErrorIs(t, err, errs.ErrInvalidTransition, "still Pending")
	require.Zero(t, f.proofs.count(), "nothing stored for a rejected transition")

	_, err = f.svc.Advance(ctx, o.ID, model.StatusDelivering, "")
	require.NoError(t, err)

	_, err = f.svc.Deliver(ctx, o.ID, nil)
	require.ErrorIs(t, err, errs.ErrMissingProof)

	got, err := f.svc.Deliver(ctx, o.ID, strings.NewReader("jpeg"))
	require.NoError(t, err)
	require.Equal(t, model.StatusDelivered, got.Status)
	require.NotEmpty(t, got.ProofRef)
	require.Equal(t, 1, f.proofs.count())

	last := f.events.events[len(f.events.events)-1]
	require.Equal(t, "Delivered", last.Status)
	require.Equal(t, got.ProofRef, last.ProofRef)
}

func TestDeliver_RemovesProofOnConflict(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	ctx := context.Background()
	o := placed(t, f)
	_, err := f.svc.Advance(ctx, o.ID, model.StatusDelivering, "")
	require.NoError(t, err)

	f.orders.beforeUpdate = func(stored *model.Order) {
		stored.Status, stored.ProofRef = model.StatusDelivered, "proof-other.jpg"
	}
	_, err = f.svc.Deliver(ctx, o.ID, strings.NewReader("jpeg"))
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Zero(t, f.proofs.count())
}

func TestDelete(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	ctx := context.Background()
	o := placed(t, f)
	_, err := f.svc.Advance(ctx, o.ID, model.StatusDelivering, "")
	require.NoError(t, err)
	_, err = f.svc.Deliver(ctx, o.ID, strings.NewReader("jpeg"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "admin@example.com", o.ID))
	_, err = f.svc.Get(ctx, o.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Zero(t, f.proofs.count(), "proof removed with the order")
	require.Equal(t, 4, f.stock(t, "ring"), "delete does not restock")

	require.Len(t, f.audit.entries, 1)
	require.Equal(t, "order.delete", f.audit.entries[0].Action)
	require.Equal(t, o.ID.String(), f.audit.entries[0].Target)
	require.Equal(t, "status=Delivered total=100.00", f.audit.entries[0].Details)

	require.ErrorIs(t, f.svc.Delete(ctx, "admin@example.com", o.ID), errs.ErrNotFound)
}

func TestDelete_AuditFailureIsIgnored(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	o := placed(t, f)
	f.audit.err = errors.New("audit down")

	require.NoError(t, f.svc.Delete(context.Background(), "admin@example.com", o.ID))
}

func TestEventFailureDoesNotFailCreate(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	f.events.err = errors.New("broker down")

	_, err := f.svc.Create(context.Background(), input(line("ring", 1, "10")))
	require.NoError(t, err)
}

func TestList(t *testing.T) {
	t.Parallel()
	f := newOrderFixture(t, map[string]int{"ring": 5})
	ctx := context.Background()
	a := placed(t, f)
	placed(t, f)
	_, err := f.svc.Advance(ctx, a.ID, model.StatusDelivering, "")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, repository.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	delivering, err := f.svc.List(ctx, repository.OrderFilter{Status: model.StatusDelivering})
	require.NoError(t, err)
	require.Len(t, delivering, 1)
	require.Equal(t, a.ID, delivering[0].ID)
}
