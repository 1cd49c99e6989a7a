package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates the schema if it does not exist yet. stock and price
// carry CHECK constraints: the database is the last line of defense for
// the no-negative-stock invariant.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id         TEXT PRIMARY KEY,
			sku        TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			price      NUMERIC(12,2) CHECK (price >= 0),
			stock      INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			status     TEXT NOT NULL DEFAULT 'available',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS orders (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending',
			payment_status   TEXT NOT NULL DEFAULT 'pending',
			total            NUMERIC(12,2) NOT NULL,
			delivery_address TEXT NOT NULL,
			payment_method   TEXT NOT NULL,
			notes            TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS order_items (
			id         TEXT PRIMARY KEY,
			order_id   TEXT NOT NULL REFERENCES orders(id),
			product_id TEXT NOT NULL REFERENCES products(id),
			qty        INT NOT NULL CHECK (qty > 0),
			unit_price NUMERIC(12,2) NOT NULL,
			subtotal   NUMERIC(12,2) NOT NULL,
			UNIQUE (order_id, product_id)
		);
		CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
	`)
	return err
}
