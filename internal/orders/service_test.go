package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser    = "user-1"
	testAddress = "Jl. Kenanga 4, Jakarta"
)

func newTestService(store Store) *Service {
	return &Service{Store: store, MaxRetries: 3, RetryDelay: time.Millisecond}
}

func seedStore(t *testing.T) *MemStore {
	t.Helper()
	ms := NewMemStore()
	ms.SeedProduct(Product{ID: "prod-a", SKU: "SKU-A", Name: "Kopi Arabika", Price: nullDec("10.00"), Stock: 5, Status: ProductAvailable})
	ms.SeedProduct(Product{ID: "prod-b", SKU: "SKU-B", Name: "Teh Melati", Price: nullDec("4.50"), Stock: 3, Status: ProductAvailable})
	ms.SeedProduct(Product{ID: "prod-off", SKU: "SKU-OFF", Name: "Sirup Lawas", Price: nullDec("2.00"), Stock: 10, Status: ProductDiscontinued})
	return ms
}

func placeTestOrder(t *testing.T, svc *Service, cart Cart) string {
	t.Helper()
	id, _, err := svc.PlaceOrder(context.Background(), testUser, cart, testAddress, "cash", "")
	require.NoError(t, err)
	return id
}

func TestPlaceOrder_HappyPath(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)

	orderID, total, err := svc.PlaceOrder(context.Background(), testUser,
		Cart{"prod-a": 3, "prod-b": 2}, testAddress, "CARD", "ring the bell")
	require.NoError(t, err)
	require.NotEmpty(t, orderID)
	assert.Equal(t, "39.00", total.StringFixed(2))

	assert.Equal(t, 2, ms.ProductStock("prod-a"))
	assert.Equal(t, 1, ms.ProductStock("prod-b"))

	o, err := ms.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, "card", o.PaymentMethod)
	assert.Equal(t, "ring the bell", o.Notes)
	require.Len(t, o.Items, 2)

	// total equals the sum of item subtotals, each rounded on its own
	sum := o.Items[0].Subtotal.Add(o.Items[1].Subtotal)
	assert.True(t, o.Total.Equal(sum), "total %s vs item sum %s", o.Total, sum)
}

func TestPlaceOrder_ValidationFailsBeforeAnySideEffect(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)

	_, _, err := svc.PlaceOrder(context.Background(), testUser, Cart{"prod-a": 0}, testAddress, "cash", "")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	assert.Equal(t, 5, ms.ProductStock("prod-a"))
	assert.Empty(t, ms.orders)
	assert.Empty(t, ms.items)
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	svc := newTestService(seedStore(t))

	_, _, err := svc.PlaceOrder(context.Background(), testUser, Cart{"prod-x": 1}, testAddress, "cash", "")
	var pna *ProductNotAvailableError
	require.ErrorAs(t, err, &pna)
	assert.Equal(t, "prod-x", pna.ProductID)
}

func TestPlaceOrder_DiscontinuedProduct(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)

	_, _, err := svc.PlaceOrder(context.Background(), testUser, Cart{"prod-off": 1}, testAddress, "cash", "")
	var pna *ProductNotAvailableError
	require.ErrorAs(t, err, &pna)
	assert.Equal(t, "prod-off", pna.ProductID)
	assert.Equal(t, 10, ms.ProductStock("prod-off"))
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)

	_, _, err := svc.PlaceOrder(context.Background(), testUser, Cart{"prod-b": 4}, testAddress, "cash", "")
	var ins *InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, "prod-b", ins.ProductID)
	assert.Equal(t, 4, ins.Requested)
	assert.Equal(t, 3, ins.Available)

	assert.Equal(t, 3, ms.ProductStock("prod-b"))
	assert.Empty(t, ms.orders)
}

func TestPlaceOrder_MultiLineFailureRollsBackEveryLine(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)

	// prod-a has plenty; prod-b is short. prod-a is decremented first
	// (ascending id) and must be restored when prod-b fails.
	_, _, err := svc.PlaceOrder(context.Background(), testUser,
		Cart{"prod-a": 2, "prod-b": 99}, testAddress, "cash", "")
	var ins *InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, "prod-b", ins.ProductID)

	assert.Equal(t, 5, ms.ProductStock("prod-a"))
	assert.Equal(t, 3, ms.ProductStock("prod-b"))
	assert.Empty(t, ms.orders)
	assert.Empty(t, ms.items)
}

func TestPlaceOrder_MissingPriceIsSurfaced(t *testing.T) {
	ms := seedStore(t)
	ms.SeedProduct(Product{ID: "prod-free", SKU: "SKU-F", Name: "Tester", Stock: 5, Status: ProductAvailable})
	svc := newTestService(ms)

	_, _, err := svc.PlaceOrder(context.Background(), testUser,
		Cart{"prod-a": 1, "prod-free": 1}, testAddress, "cash", "")
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 5, ms.ProductStock("prod-a"))
	assert.Empty(t, ms.orders)
}

func TestPlaceOrder_SnapshotSurvivesPriceChange(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)
	orderID := placeTestOrder(t, svc, Cart{"prod-a": 2})

	// reprice the catalog after the order exists
	p := ms.products["prod-a"]
	p.Price = nullDec("99.99")
	ms.SeedProduct(p)

	o, err := svc.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "10.00", o.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "20.00", o.Items[0].Subtotal.StringFixed(2))
	assert.Equal(t, "20.00", o.Total.StringFixed(2))
}

func TestPlaceOrder_ConcurrentReservationsNeverOversell(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)

	// stock=5, two concurrent requests for qty=3: exactly one may win
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	totals := make(chan string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, total, err := svc.PlaceOrder(context.Background(), testUser,
				Cart{"prod-a": 3}, testAddress, "cash", "")
			errs <- err
			if err == nil {
				totals <- total.StringFixed(2)
			}
		}()
	}
	wg.Wait()
	close(errs)
	close(totals)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
			continue
		}
		lost++
		var ins *InsufficientStockError
		assert.ErrorAs(t, err, &ins)
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 2, ms.ProductStock("prod-a"))
	assert.Equal(t, "30.00", <-totals)
}

func TestPlaceOrder_ManyConcurrentCallersSumWithinStock(t *testing.T) {
	ms := NewMemStore()
	ms.SeedProduct(Product{ID: "hot", SKU: "HOT", Name: "Flash item", Price: nullDec("1.00"), Stock: 10, Status: ProductAvailable})
	svc := newTestService(ms)

	const callers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.PlaceOrder(context.Background(), testUser,
				Cart{"hot": 2}, testAddress, "cash", "")
			if err == nil {
				mu.Lock()
				reserved += 2
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, reserved, 10)
	assert.Equal(t, 10-reserved, ms.ProductStock("hot"))
}

func TestCancelOrder_RestoresStockAndIsIdempotent(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)
	orderID := placeTestOrder(t, svc, Cart{"prod-b": 2})
	require.Equal(t, 1, ms.ProductStock("prod-b"))

	require.NoError(t, svc.CancelOrder(context.Background(), orderID, testUser))
	assert.Equal(t, 3, ms.ProductStock("prod-b"))
	o, err := svc.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)

	// cancelling again succeeds without touching stock
	require.NoError(t, svc.CancelOrder(context.Background(), orderID, testUser))
	assert.Equal(t, 3, ms.ProductStock("prod-b"))
}

func TestCancelOrder_RejectedOncePreparing(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)
	orderID := placeTestOrder(t, svc, Cart{"prod-a": 2})
	ctx := context.Background()

	require.NoError(t, svc.UpdateOrderStatus(ctx, orderID, StatusConfirmed))
	require.NoError(t, svc.UpdateOrderStatus(ctx, orderID, StatusPreparing))

	err := svc.CancelOrder(ctx, orderID, testUser)
	var ist *InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)
	assert.Equal(t, string(StatusPreparing), ist.From)

	// stock untouched by the failed cancel
	assert.Equal(t, 3, ms.ProductStock("prod-a"))
}

func TestCancelOrder_OwnershipEnforced(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)
	orderID := placeTestOrder(t, svc, Cart{"prod-a": 1})

	err := svc.CancelOrder(context.Background(), orderID, "someone-else")
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 4, ms.ProductStock("prod-a"))
}

func TestCancelOrder_UnknownOrder(t *testing.T) {
	svc := newTestService(seedStore(t))
	err := svc.CancelOrder(context.Background(), "no-such-order", testUser)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestUpdateOrderStatus_FollowsLifecycle(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)
	orderID := placeTestOrder(t, svc, Cart{"prod-a": 1})
	ctx := context.Background()

	// skipping ahead is rejected
	err := svc.UpdateOrderStatus(ctx, orderID, StatusReady)
	var ist *InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)

	// unknown status is a validation failure
	var ve *ValidationError
	err = svc.UpdateOrderStatus(ctx, orderID, Status("shipped"))
	require.ErrorAs(t, err, &ve)

	for _, next := range []Status{StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered} {
		require.NoError(t, svc.UpdateOrderStatus(ctx, orderID, next))
	}
	o, err := svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status)
}

func TestUpdateOrderStatus_CancelPathRestoresStock(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)
	orderID := placeTestOrder(t, svc, Cart{"prod-a": 3})
	require.Equal(t, 2, ms.ProductStock("prod-a"))

	require.NoError(t, svc.UpdateOrderStatus(context.Background(), orderID, StatusCancelled))
	assert.Equal(t, 5, ms.ProductStock("prod-a"))
}

func TestUpdatePaymentStatus_LinearAxis(t *testing.T) {
	ms := seedStore(t)
	svc := newTestService(ms)
	orderID := placeTestOrder(t, svc, Cart{"prod-a": 1})
	ctx := context.Background()

	// refund before payment is rejected
	err := svc.UpdatePaymentStatus(ctx, orderID, PaymentRefunded)
	var ist *InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)

	require.NoError(t, svc.UpdatePaymentStatus(ctx, orderID, PaymentPaid))
	require.NoError(t, svc.UpdatePaymentStatus(ctx, orderID, PaymentRefunded))

	// the refund recorded nothing on the status axis
	o, err := svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)
	assert.Equal(t, StatusPending, o.Status)
}

// flakyStore fails the first n transactions with a retryable conflict,
// then behaves like the wrapped store.
type flakyStore struct {
	*MemStore
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) InTx(ctx context.Context, fn func(tx StoreTx) error) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return &ConcurrencyConflictError{Err: errors.New("lock timeout")}
	}
	f.mu.Unlock()
	return f.MemStore.InTx(ctx, fn)
}

func TestPlaceOrder_RetriesTransientConflicts(t *testing.T) {
	fs := &flakyStore{MemStore: seedStore(t), failures: 2}
	svc := newTestService(fs)

	_, total, err := svc.PlaceOrder(context.Background(), testUser, Cart{"prod-a": 1}, testAddress, "cash", "")
	require.NoError(t, err)
	assert.Equal(t, "10.00", total.StringFixed(2))
	assert.Equal(t, 4, fs.ProductStock("prod-a"))
}

func TestPlaceOrder_GivesUpAfterBoundedRetries(t *testing.T) {
	fs := &flakyStore{MemStore: seedStore(t), failures: 100}
	svc := newTestService(fs)

	_, _, err := svc.PlaceOrder(context.Background(), testUser, Cart{"prod-a": 1}, testAddress, "cash", "")
	var cc *ConcurrencyConflictError
	require.ErrorAs(t, err, &cc)
	assert.True(t, Retryable(err))
	assert.Equal(t, 5, fs.ProductStock("prod-a"))
}
