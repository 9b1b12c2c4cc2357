package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinexec/orderflow/internal/persistence"
)

var orderTestColumns = []string{
	"id", "token_in", "token_out", "amount_in", "slippage", "status",
	"selected_venue", "tx_hash", "executed_price", "amount_out", "fee_amount",
	"failure_reason", "created_at", "updated_at", "confirmed_at",
}

func newMockStore(t *testing.T) (persistence.OrderStore, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	store := NewOrderStore(sqlxDB, 5*time.Second)

	return store, mock, func() { mockDB.Close() }
}

func TestCreate_InsertsOrderAndHistory(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(sqlmock.AnyArg(), "USDC", "SOL", int64(1_000_000), 0.01, "pending").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs(sqlmock.AnyArg(), "pending").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	order := &persistence.Order{
		TokenIn:  "USDC",
		TokenOut: "SOL",
		AmountIn: 1_000_000,
		Slippage: 0.01,
	}

	err := store.Create(context.Background(), order)
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID, "create should assign an identifier")
	assert.Equal(t, persistence.StatusPending, order.Status)
	assert.Equal(t, now, order.CreatedAt)
	assert.Equal(t, now, order.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DuplicateID(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	order := &persistence.Order{
		ID:       "ord-1",
		TokenIn:  "USDC",
		TokenOut: "SOL",
		AmountIn: 1_000_000,
		Slippage: 0.01,
		Status:   persistence.StatusPending,
	}

	err := store.Create(context.Background(), order)
	assert.True(t, errors.Is(err, persistence.ErrDuplicate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_AppliesPatchAndAppendsHistory(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	venue := "orca"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders SET").
		WithArgs("ord-1", "routing", &venue, nil, nil, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows(orderTestColumns).AddRow(
			"ord-1", "USDC", "SOL", int64(1_000_000), 0.01, "routing",
			"orca", nil, nil, nil, nil, nil, now, now, nil))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs("ord-1", "routing", []byte(`{"selectedVenue":"orca"}`)).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	updated, err := store.UpdateStatus(context.Background(), "ord-1", persistence.StatusRouting, &persistence.StatusPatch{
		SelectedVenue: &venue,
		Metadata:      map[string]interface{}{"selectedVenue": "orca"},
	})
	require.NoError(t, err)

	assert.Equal(t, persistence.StatusRouting, updated.Status)
	require.NotNil(t, updated.SelectedVenue)
	assert.Equal(t, "orca", *updated.SelectedVenue)
	assert.Nil(t, updated.TxHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NilPatch(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders SET").
		WithArgs("ord-1", "routing", nil, nil, nil, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows(orderTestColumns).AddRow(
			"ord-1", "USDC", "SOL", int64(1_000_000), 0.01, "routing",
			nil, nil, nil, nil, nil, nil, now, now, nil))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs("ord-1", "routing", nil).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	updated, err := store.UpdateStatus(context.Background(), "ord-1", persistence.StatusRouting, nil)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusRouting, updated.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders SET").
		WillReturnRows(sqlmock.NewRows(orderTestColumns))
	mock.ExpectRollback()

	_, err := store.UpdateStatus(context.Background(), "missing", persistence.StatusRouting, nil)
	assert.True(t, errors.Is(err, persistence.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_ScansAllColumns(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	confirmedAt := now.Add(2 * time.Second)

	mock.ExpectQuery("FROM orders WHERE id").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(orderTestColumns).AddRow(
			"ord-1", "USDC", "SOL", int64(1_000_000), 0.01, "confirmed",
			"orca", "tx-abc", 0.9975, int64(997_500), int64(2_500),
			nil, now, now, confirmedAt))

	order, err := store.FindByID(context.Background(), "ord-1")
	require.NoError(t, err)

	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, persistence.StatusConfirmed, order.Status)
	require.NotNil(t, order.TxHash)
	assert.Equal(t, "tx-abc", *order.TxHash)
	require.NotNil(t, order.ExecutedPrice)
	assert.Equal(t, 0.9975, *order.ExecutedPrice)
	require.NotNil(t, order.AmountOut)
	assert.Equal(t, int64(997_500), *order.AmountOut)
	require.NotNil(t, order.ConfirmedAt)
	assert.Nil(t, order.FailureReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("FROM orders WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(orderTestColumns))

	_, err := store.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, persistence.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRecent_DefaultsLimit(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()

	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(orderTestColumns).
			AddRow("ord-2", "USDC", "SOL", int64(2), 0.01, "pending",
				nil, nil, nil, nil, nil, nil, now, now, nil).
			AddRow("ord-1", "USDC", "SOL", int64(1), 0.01, "confirmed",
				"orca", "tx-1", 1.0, int64(1), int64(0), nil, now.Add(-time.Minute), now, nil))

	orders, err := store.FindRecent(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, orders, 2)
	assert.Equal(t, "ord-2", orders[0].ID)
	assert.Equal(t, "ord-1", orders[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusHistory_OrdersAscending(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	base := time.Now().UTC().Add(-time.Minute)

	mock.ExpectQuery("FROM order_status_history").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "status", "created_at", "metadata"}).
			AddRow(int64(1), "ord-1", "pending", base, nil).
			AddRow(int64(2), "ord-1", "routing", base.Add(time.Second), []byte(`{"selectedVenue":"orca"}`)))

	entries, err := store.StatusHistory(context.Background(), "ord-1")
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, persistence.StatusPending, entries[0].Status)
	assert.Nil(t, entries[0].Metadata)
	assert.Equal(t, persistence.StatusRouting, entries[1].Status)
	assert.JSONEq(t, `{"selectedVenue":"orca"}`, string(entries[1].Metadata))
	assert.NoError(t, mock.ExpectationsWereMet())
}
