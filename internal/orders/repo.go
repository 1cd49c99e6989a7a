package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the postgres-backed Store.
type Repo struct {
	DB *pgxpool.Pool
	// LockTimeout bounds how long a transaction waits on row locks
	// before failing with a retryable conflict. Zero means server default.
	LockTimeout time.Duration
}

var _ Store = (*Repo)(nil)

// classify maps pg failures onto the domain taxonomy: lock timeouts,
// serialization failures and deadlock victims are retryable conflicts,
// everything else is a persistence failure.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return &ConcurrencyConflictError{Err: err}
		}
	}
	return &PersistenceError{Op: op, Err: err}
}

func (r *Repo) InTx(ctx context.Context, fn func(tx StoreTx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if r.LockTimeout > 0 {
		// SET LOCAL scopes the timeout to this transaction only.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classify("lock timeout", err)
		}
	}

	if err := fn(&repoTx{tx: tx}); err != nil {
		return err // rollback via defer
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, status, payment_status, total, delivery_address,
		       payment_method, notes, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentStatus, &o.Total,
			&o.DeliveryAddress, &o.PaymentMethod, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, classify("get order", err)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, unit_price, subtotal
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return Order{}, classify("get order items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.UnitPrice, &it.Subtotal); err != nil {
			return Order{}, classify("get order items", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Order{}, classify("get order items", err)
	}
	return o, nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, price, stock, status, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, classify("list products", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Stock, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, classify("list products", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list products", err)
	}
	return out, nil
}

type repoTx struct {
	tx pgx.Tx
}

var _ StoreTx = (*repoTx)(nil)

func (t *repoTx) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, sku, name, price, stock, status, created_at, updated_at
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, classify("read products", err)
	}
	defer rows.Close()

	out := make(map[string]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Stock, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, classify("read products", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read products", err)
	}
	return out, nil
}

// AdjustStock is one conditional UPDATE: the stock check and the write
// happen in the same statement under the row lock, so two racing
// reservations can never both pass the check.
func (t *repoTx) AdjustStock(ctx context.Context, productID string, delta int) (bool, error) {
	var ct pgconn.CommandTag
	var err error
	if delta < 0 {
		ct, err = t.tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = now()
			WHERE id = $1 AND status = 'available' AND stock + $2 >= 0`,
			productID, delta)
	} else {
		ct, err = t.tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = now()
			WHERE id = $1`,
			productID, delta)
	}
	if err != nil {
		return false, classify("adjust stock", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *repoTx) InsertOrder(ctx context.Context, o Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, payment_status, total,
		                   delivery_address, payment_method, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.UserID, o.Status, o.PaymentStatus, o.Total,
		o.DeliveryAddress, o.PaymentMethod, o.Notes)
	if err != nil {
		return classify("insert order", err)
	}
	return nil
}

func (t *repoTx) InsertItems(ctx context.Context, items []OrderItem) error {
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(`
			INSERT INTO order_items(id, order_id, product_id, qty, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.OrderID, it.ProductID, it.Qty, it.UnitPrice, it.Subtotal)
	}
	if err := t.tx.SendBatch(ctx, b).Close(); err != nil {
		return classify("insert order items", err)
	}
	return nil
}

func (t *repoTx) LockOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, status, payment_status, total, delivery_address,
		       payment_method, notes, created_at, updated_at
		FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentStatus, &o.Total,
			&o.DeliveryAddress, &o.PaymentMethod, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, classify("lock order", err)
	}
	return o, nil
}

func (t *repoTx) ItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, qty, unit_price, subtotal
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, classify("read order items", err)
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, classify("read order items", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read order items", err)
	}
	return out, nil
}

func (t *repoTx) SetStatus(ctx context.Context, orderID string, s Status) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, s)
	if err != nil {
		return classify("set status", err)
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *repoTx) SetPaymentStatus(ctx context.Context, orderID string, s PaymentStatus) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE orders SET payment_status=$2, updated_at=now() WHERE id=$1`, orderID, s)
	if err != nil {
		return classify("set payment status", err)
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}
