package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaSQL bootstraps the order tables. Statements are idempotent so
// EnsureSchema can run on every startup.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	token_in       TEXT NOT NULL,
	token_out      TEXT NOT NULL,
	amount_in      BIGINT NOT NULL CHECK (amount_in > 0),
	slippage       DOUBLE PRECISION NOT NULL DEFAULT 0.005,
	status         TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'routing', 'building', 'submitted', 'confirmed', 'failed')),
	selected_venue TEXT,
	tx_hash        TEXT,
	executed_price DOUBLE PRECISION,
	amount_out     BIGINT,
	fee_amount     BIGINT,
	failure_reason TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	confirmed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_tx_hash ON orders (tx_hash);

CREATE TABLE IF NOT EXISTS order_status_history (
	id         BIGSERIAL PRIMARY KEY,
	order_id   TEXT NOT NULL REFERENCES orders (id),
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	metadata   JSONB
);

CREATE INDEX IF NOT EXISTS idx_order_status_history_order_id ON order_status_history (order_id);
CREATE INDEX IF NOT EXISTS idx_order_status_history_created_at ON order_status_history (created_at DESC);

CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $$
BEGIN
	NEW.updated_at = now();
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS orders_set_updated_at ON orders;
CREATE TRIGGER orders_set_updated_at
	BEFORE UPDATE ON orders
	FOR EACH ROW
	EXECUTE FUNCTION set_updated_at();
`

// EnsureSchema creates the order tables, indexes and the updated_at
// trigger if they do not exist yet
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
