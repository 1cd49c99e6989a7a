package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and local runs. One
// mutex serializes transactions, which trivially gives the same
// atomicity and isolation the postgres Repo provides; a snapshot taken
// at transaction start backs rollback.
type MemStore struct {
	mu       sync.Mutex
	products map[string]Product
	orders   map[string]Order
	items    map[string][]OrderItem
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		products: make(map[string]Product),
		orders:   make(map[string]Order),
		items:    make(map[string][]OrderItem),
	}
}

func (m *MemStore) SeedProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	m.products[p.ID] = p
}

// ProductStock reports current stock outside any transaction.
func (m *MemStore) ProductStock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].Stock
}

func (m *MemStore) snapshot() (map[string]Product, map[string]Order, map[string][]OrderItem) {
	ps := make(map[string]Product, len(m.products))
	for k, v := range m.products {
		ps[k] = v
	}
	os := make(map[string]Order, len(m.orders))
	for k, v := range m.orders {
		os[k] = v
	}
	is := make(map[string][]OrderItem, len(m.items))
	for k, v := range m.items {
		is[k] = append([]OrderItem(nil), v...)
	}
	return ps, os, is
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx StoreTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, os, is := m.snapshot()
	if err := fn(&memTx{s: m}); err != nil {
		m.products, m.orders, m.items = ps, os, is
		return err
	}
	return nil
}

func (m *MemStore) GetOrder(ctx context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	o.Items = append([]OrderItem(nil), m.items[orderID]...)
	return o, nil
}

func (m *MemStore) ListProducts(ctx context.Context) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

// memTx operates on the store directly; the store's mutex is held for
// the whole transaction and InTx restores the snapshot on error.
type memTx struct {
	s *MemStore
}

var _ StoreTx = (*memTx)(nil)

func (t *memTx) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) AdjustStock(ctx context.Context, productID string, delta int) (bool, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return false, nil
	}
	if delta < 0 && (p.Status != ProductAvailable || p.Stock+delta < 0) {
		return false, nil
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = p
	return true, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o Order) error {
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	o.Items = nil
	t.s.orders[o.ID] = o
	return nil
}

func (t *memTx) InsertItems(ctx context.Context, items []OrderItem) error {
	for _, it := range items {
		t.s.items[it.OrderID] = append(t.s.items[it.OrderID], it)
	}
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID string) (Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (t *memTx) ItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error) {
	return append([]OrderItem(nil), t.s.items[orderID]...), nil
}

func (t *memTx) SetStatus(ctx context.Context, orderID string, s Status) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = s
	o.UpdatedAt = time.Now().UTC()
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) SetPaymentStatus(ctx context.Context, orderID string, s PaymentStatus) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.PaymentStatus = s
	o.UpdatedAt = time.Now().UTC()
	t.s.orders[orderID] = o
	return nil
}
