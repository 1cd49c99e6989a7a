package orders

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service coordinates the order-placement transaction: validate ->
// price -> reserve -> persist -> commit, and the symmetric reversal on
// cancellation. Every failure aborts the whole transaction; partial
// orders or partial stock changes are never observable.
type Service struct {
	Store Store
	// MaxRetries bounds how many times a call is retried after a
	// transient concurrency conflict. Values < 1 mean a single attempt.
	MaxRetries int
	RetryDelay time.Duration
}

// PlaceOrder validates and prices the cart, reserves stock for every
// line atomically, and persists the order with per-line price
// snapshots. Returns the new order id and total.
func (s *Service) PlaceOrder(ctx context.Context, userID string, cart Cart, deliveryAddress, paymentMethod, notes string) (string, decimal.Decimal, error) {
	if userID == "" {
		return "", decimal.Zero, &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	method, err := ValidateCart(cart, deliveryAddress, paymentMethod)
	if err != nil {
		return "", decimal.Zero, err
	}

	// Fixed global lock order: every reservation and reversal walks
	// products in ascending id, so overlapping carts cannot deadlock.
	ids := make([]string, 0, len(cart))
	for pid := range cart {
		ids = append(ids, pid)
	}
	sort.Strings(ids)

	var orderID string
	var total decimal.Decimal
	err = s.withRetry(ctx, func() error {
		return s.Store.InTx(ctx, func(tx StoreTx) error {
			products, err := tx.ProductsByID(ctx, ids)
			if err != nil {
				return err
			}

			lines := make([]PricedLine, 0, len(ids))
			for _, pid := range ids {
				p, ok := products[pid]
				if !ok || p.Status != ProductAvailable {
					return &ProductNotAvailableError{ProductID: pid}
				}
				line := PriceLine(pid, p.Price, cart[pid])
				if line.PriceMissing {
					return &PersistenceError{Op: "pricing", Err: fmt.Errorf("product %s has no price", pid)}
				}
				lines = append(lines, line)
			}
			orderTotal := Total(lines)
			if !orderTotal.IsPositive() {
				return &ValidationError{Field: "cart", Reason: "order total must be positive"}
			}

			// Reserve: one conditional decrement per line, all inside
			// this transaction. Any failed line aborts and releases the
			// lines already decremented.
			for _, pid := range ids {
				ok, err := tx.AdjustStock(ctx, pid, -cart[pid])
				if err != nil {
					return err
				}
				if !ok {
					return s.rejectLine(ctx, tx, pid, cart[pid])
				}
			}

			o := Order{
				ID:              uuid.NewString(),
				UserID:          userID,
				Status:          StatusPending,
				PaymentStatus:   PaymentPending,
				Total:           orderTotal,
				DeliveryAddress: deliveryAddress,
				PaymentMethod:   method,
				Notes:           notes,
			}
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			items := make([]OrderItem, 0, len(lines))
			for _, l := range lines {
				items = append(items, OrderItem{
					ID:        uuid.NewString(),
					OrderID:   o.ID,
					ProductID: l.ProductID,
					Qty:       l.Qty,
					UnitPrice: l.UnitPrice,
					Subtotal:  l.Subtotal,
				})
			}
			if err := tx.InsertItems(ctx, items); err != nil {
				return err
			}
			orderID, total = o.ID, orderTotal
			return nil
		})
	})
	if err != nil {
		return "", decimal.Zero, err
	}
	return orderID, total, nil
}

// rejectLine turns a failed conditional decrement into the right
// business error by re-reading the row under the current transaction.
func (s *Service) rejectLine(ctx context.Context, tx StoreTx, productID string, requested int) error {
	cur, err := tx.ProductsByID(ctx, []string{productID})
	if err != nil {
		return err
	}
	p, ok := cur[productID]
	if !ok || p.Status != ProductAvailable {
		return &ProductNotAvailableError{ProductID: productID}
	}
	return &InsufficientStockError{ProductID: productID, Requested: requested, Available: p.Stock}
}

// CancelOrder transitions the order to cancelled and restores the stock
// its items reserved, atomically. Cancelling an already-cancelled order
// succeeds without touching stock again.
func (s *Service) CancelOrder(ctx context.Context, orderID, requesterID string) error {
	return s.withRetry(ctx, func() error {
		return s.Store.InTx(ctx, func(tx StoreTx) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if requesterID != "" && o.UserID != requesterID {
				return ErrForbidden
			}
			if o.Status == StatusCancelled {
				return nil // idempotent
			}
			if !Cancellable(o.Status) {
				return &InvalidStateTransitionError{From: string(o.Status), To: string(StatusCancelled)}
			}
			if err := s.restoreStock(ctx, tx, orderID); err != nil {
				return err
			}
			return tx.SetStatus(ctx, orderID, StatusCancelled)
		})
	})
}

// restoreStock is the reversal of reservation: one increment per item,
// in the same ascending product-id order as placement.
func (s *Service) restoreStock(ctx context.Context, tx StoreTx, orderID string) error {
	items, err := tx.ItemsByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	for _, it := range items {
		ok, err := tx.AdjustStock(ctx, it.ProductID, it.Qty)
		if err != nil {
			return err
		}
		if !ok {
			return &PersistenceError{Op: "restore stock", Err: fmt.Errorf("product %s missing", it.ProductID)}
		}
	}
	return nil
}

// UpdateOrderStatus applies one lifecycle transition. Transitioning to
// cancelled through this path performs the same stock reversal as
// CancelOrder.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, next Status) error {
	if !ValidStatus(next) {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(next)}
	}
	return s.withRetry(ctx, func() error {
		return s.Store.InTx(ctx, func(tx StoreTx) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if !CanTransition(o.Status, next) {
				return &InvalidStateTransitionError{From: string(o.Status), To: string(next)}
			}
			if next == StatusCancelled {
				if err := s.restoreStock(ctx, tx, orderID); err != nil {
					return err
				}
			}
			return tx.SetStatus(ctx, orderID, next)
		})
	})
}

// UpdatePaymentStatus records a payment-axis transition. It never
// touches the order status axis; refunds are a separate business action.
func (s *Service) UpdatePaymentStatus(ctx context.Context, orderID string, next PaymentStatus) error {
	if !ValidPaymentStatus(next) {
		return &ValidationError{Field: "payment_status", Reason: "unknown payment status " + string(next)}
	}
	return s.withRetry(ctx, func() error {
		return s.Store.InTx(ctx, func(tx StoreTx) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if !CanTransitionPayment(o.PaymentStatus, next) {
				return &InvalidStateTransitionError{From: string(o.PaymentStatus), To: string(next)}
			}
			return tx.SetPaymentStatus(ctx, orderID, next)
		})
	})
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.Store.GetOrder(ctx, orderID)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

// withRetry re-runs fn after transient concurrency conflicts, up to
// MaxRetries attempts. Business rejections and persistence failures are
// returned immediately.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	attempts := s.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	delay := s.RetryDelay
	if delay <= 0 {
		delay = 25 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !Retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
	return err
}
