package orders

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrForbidden     = errors.New("order belongs to another user")
)

// ValidationError: bad cart or metadata. Nothing was touched; retrying
// without changing the request will fail again.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProductNotAvailableError: the product is missing, unavailable or
// discontinued. Business rejection, not retryable with the same cart.
type ProductNotAvailableError struct {
	ProductID string
}

func (e *ProductNotAvailableError) Error() string {
	return fmt.Sprintf("product %s not available", e.ProductID)
}

// InsufficientStockError: stock check failed for one line. The whole
// reservation was rolled back.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ConcurrencyConflictError: transient lock contention (lock timeout,
// serialization failure, deadlock victim). Safe to retry the whole call.
type ConcurrencyConflictError struct {
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: %v", e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// PersistenceError: I/O or transaction failure, or a storage-side
// invariant violation (e.g. a referenced product with no price).
// Nothing was committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InvalidStateTransitionError covers both status axes; From/To hold the
// string form of whichever axis was violated.
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Retryable reports whether the caller may retry the same call and
// reasonably expect a different outcome.
func Retryable(err error) bool {
	var c *ConcurrencyConflictError
	return errors.As(err, &c)
}
