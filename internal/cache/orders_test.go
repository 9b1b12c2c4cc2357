package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinexec/orderflow/internal/persistence"
)

func testOrder() *persistence.Order {
	return &persistence.Order{
		ID:       "ord-1",
		TokenIn:  "USDC",
		TokenOut: "So11111111111111111111111111111111111111112",
		AmountIn: 1_000_000,
		Slippage: 0.01,
		Status:   persistence.StatusPending,
	}
}

func TestOrderCache_SetUsesConfiguredTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewWithClient(client, time.Minute)

	order := testOrder()
	data, err := json.Marshal(order)
	require.NoError(t, err)

	mock.ExpectSet("orderflow:orders:ord-1", data, time.Minute).SetVal("OK")

	require.NoError(t, c.Set(context.Background(), order))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderCache_GetHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewWithClient(client, time.Minute)

	order := testOrder()
	data, err := json.Marshal(order)
	require.NoError(t, err)

	mock.ExpectGet("orderflow:orders:ord-1").SetVal(string(data))

	got, found, err := c.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, order.TokenOut, got.TokenOut)
	assert.Equal(t, persistence.StatusPending, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderCache_GetMissIsNotError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewWithClient(client, time.Minute)

	mock.ExpectGet("orderflow:orders:missing").RedisNil()

	got, found, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderCache_GetRedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewWithClient(client, time.Minute)

	mock.ExpectGet("orderflow:orders:ord-1").SetErr(redis.TxFailedErr)

	_, _, err := c.Get(context.Background(), "ord-1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderCache_Delete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewWithClient(client, time.Minute)

	mock.ExpectDel("orderflow:orders:ord-1").SetVal(1)

	require.NoError(t, c.Delete(context.Background(), "ord-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderCache_DeleteMissingKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewWithClient(client, time.Minute)

	mock.ExpectDel("orderflow:orders:gone").SetVal(0)

	require.NoError(t, c.Delete(context.Background(), "gone"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderCache_Exists(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewWithClient(client, time.Minute)

	mock.ExpectExists("orderflow:orders:ord-1").SetVal(1)

	found, err := c.Exists(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderCache_RefreshTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewWithClient(client, time.Minute)

	mock.ExpectExpire("orderflow:orders:ord-1", 5*time.Minute).SetVal(true)

	require.NoError(t, c.RefreshTTL(context.Background(), "ord-1", 5*time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderCache_DefaultTTLApplied(t *testing.T) {
	client, _ := redismock.NewClientMock()
	c := NewWithClient(client, 0)
	assert.Equal(t, DefaultTTL, c.ttl)
}
