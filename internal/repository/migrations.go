package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		status            TEXT NOT NULL,
		total_amount      BIGINT NOT NULL CHECK (total_amount > 0),
		currency          TEXT NOT NULL,
		payment_intent_id TEXT UNIQUE,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_user_id_created_at_idx ON orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id   TEXT NOT NULL REFERENCES orders (id),
		position   INT NOT NULL,
		item_ref   TEXT NOT NULL,
		quantity   BIGINT NOT NULL CHECK (quantity > 0),
		unit_price BIGINT NOT NULL CHECK (unit_price > 0),
		PRIMARY KEY (order_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id             TEXT PRIMARY KEY,
		order_id       TEXT NOT NULL REFERENCES orders (id),
		transaction_id TEXT NOT NULL,
		amount         BIGINT NOT NULL,
		currency       TEXT NOT NULL,
		status         TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS payments_transaction_id_key ON payments (transaction_id)`,
	`CREATE INDEX IF NOT EXISTS payments_order_id_idx ON payments (order_id)`,
}

// Migrate creates the checkout tables when they are missing. The cart and
// catalog tables belong to other services and are not created here.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	logging.Infof("Applied %d schema statements", len(schema))
	return nil
}
