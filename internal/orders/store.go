package orders

import "context"

// Store is the persistence boundary the coordinator talks to. The pgx
// implementation lives in repo.go; MemStore backs tests and local runs.
type Store interface {
	// InTx runs fn inside one atomic transaction. fn returning an error
	// rolls everything back; the error comes back unchanged.
	InTx(ctx context.Context, fn func(tx StoreTx) error) error

	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// StoreTx is the set of operations available inside one transaction.
// All mutations are provisional until InTx commits.
type StoreTx interface {
	// ProductsByID returns the referenced products keyed by id. Missing
	// ids are simply absent from the map.
	ProductsByID(ctx context.Context, ids []string) (map[string]Product, error)

	// AdjustStock applies delta to a product's stock only if the result
	// stays >= 0; negative deltas additionally require the product to be
	// available. Returns false (and no change) when the condition fails.
	// The check and the write are one atomic step: there is no window
	// another transaction can exploit between them.
	AdjustStock(ctx context.Context, productID string, delta int) (bool, error)

	InsertOrder(ctx context.Context, o Order) error
	InsertItems(ctx context.Context, items []OrderItem) error

	// LockOrder reads the order under an exclusive per-order lock held
	// until the transaction ends. Serializes concurrent cancel/update
	// attempts on the same order.
	LockOrder(ctx context.Context, orderID string) (Order, error)

	ItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error)
	SetStatus(ctx context.Context, orderID string, s Status) error
	SetPaymentStatus(ctx context.Context, orderID string, s PaymentStatus) error
}
