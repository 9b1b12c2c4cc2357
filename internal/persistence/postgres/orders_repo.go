package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/coinexec/orderflow/internal/persistence"
)

const orderColumns = `id, token_in, token_out, amount_in, slippage, status,
	selected_venue, tx_hash, executed_price, amount_out, fee_amount,
	failure_reason, created_at, updated_at, confirmed_at`

// ordersRepo implements OrderStore for PostgreSQL
type ordersRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOrderStore creates a new PostgreSQL order store
func NewOrderStore(db *sqlx.DB, timeout time.Duration) persistence.OrderStore {
	return &ordersRepo{
		db:      db,
		timeout: timeout,
	}
}

// Create inserts the order row and its initial history entry atomically
func (r *ordersRepo) Create(ctx context.Context, order *persistence.Order) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.Status == "" {
		order.Status = persistence.StatusPending
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, token_in, token_out, amount_in, slippage, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.ID, order.TokenIn, order.TokenOut,
		order.AmountIn, order.Slippage, order.Status).
		Scan(&order.CreatedAt, &order.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return persistence.ErrDuplicate
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status)
		VALUES ($1, $2)`,
		order.ID, order.Status)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}

	return tx.Commit()
}

// UpdateStatus transitions the order and appends a history row in one
// transaction. Nil patch fields leave the corresponding columns as-is.
func (r *ordersRepo) UpdateStatus(ctx context.Context, orderID string, status persistence.OrderStatus, patch *persistence.StatusPatch) (*persistence.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if patch == nil {
		patch = &persistence.StatusPatch{}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE orders SET
			status = $2,
			selected_venue = COALESCE($3, selected_venue),
			tx_hash = COALESCE($4, tx_hash),
			executed_price = COALESCE($5, executed_price),
			amount_out = COALESCE($6, amount_out),
			fee_amount = COALESCE($7, fee_amount),
			failure_reason = COALESCE($8, failure_reason),
			confirmed_at = CASE WHEN $2 = 'confirmed' THEN now() ELSE confirmed_at END
		WHERE id = $1
		RETURNING ` + orderColumns

	var updated persistence.Order
	err = tx.QueryRowxContext(ctx, query,
		orderID, status,
		patch.SelectedVenue, patch.TxHash, patch.ExecutedPrice,
		patch.AmountOut, patch.FeeAmount, patch.FailureReason).
		StructScan(&updated)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	var metadata []byte
	if len(patch.Metadata) > 0 {
		metadata, err = json.Marshal(patch.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history metadata: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, metadata)
		VALUES ($1, $2, $3)`,
		orderID, status, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to insert status history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}

	return &updated, nil
}

// FindByID retrieves one order by its identifier
func (r *ordersRepo) FindByID(ctx context.Context, orderID string) (*persistence.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order persistence.Order
	err := r.db.GetContext(ctx, &order, query, orderID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	return &order, nil
}

// FindRecent returns the newest orders first
func (r *ordersRepo) FindRecent(ctx context.Context, limit int) ([]persistence.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1`

	orders := []persistence.Order{}
	if err := r.db.SelectContext(ctx, &orders, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query recent orders: %w", err)
	}

	return orders, nil
}

// historyRow mirrors StatusHistoryEntry with metadata as raw bytes;
// database/sql cannot scan a NULL jsonb column into json.RawMessage.
type historyRow struct {
	ID        int64                   `db:"id"`
	OrderID   string                  `db:"order_id"`
	Status    persistence.OrderStatus `db:"status"`
	CreatedAt time.Time               `db:"created_at"`
	Metadata  []byte                  `db:"metadata"`
}

// StatusHistory returns the order's transitions oldest first
func (r *ordersRepo) StatusHistory(ctx context.Context, orderID string) ([]persistence.StatusHistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, order_id, status, created_at, metadata
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC`

	rows := []historyRow{}
	if err := r.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}

	entries := make([]persistence.StatusHistoryEntry, len(rows))
	for i, row := range rows {
		entries[i] = persistence.StatusHistoryEntry{
			ID:        row.ID,
			OrderID:   row.OrderID,
			Status:    row.Status,
			Timestamp: row.CreatedAt,
			Metadata:  json.RawMessage(row.Metadata),
		}
	}
	return entries, nil
}
