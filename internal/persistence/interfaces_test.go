package persistence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRouting.Terminal())
	assert.False(t, StatusBuilding.Terminal())
	assert.False(t, StatusSubmitted.Terminal())
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestOrderStatus_Valid(t *testing.T) {
	for _, s := range []OrderStatus{StatusPending, StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed, StatusFailed} {
		assert.True(t, s.Valid(), "expected %s to be valid", s)
	}
	assert.False(t, OrderStatus("cancelled").Valid())
	assert.False(t, OrderStatus("").Valid())
}

func TestOrderStatus_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"pending_to_routing", StatusPending, StatusRouting, true},
		{"routing_to_building", StatusRouting, StatusBuilding, true},
		{"building_to_submitted", StatusBuilding, StatusSubmitted, true},
		{"submitted_to_confirmed", StatusSubmitted, StatusConfirmed, true},
		{"skip_ahead_allowed", StatusPending, StatusBuilding, true},

		// Redelivered jobs must not rewind the history
		{"routing_to_pending", StatusRouting, StatusPending, false},
		{"building_to_routing", StatusBuilding, StatusRouting, false},
		{"submitted_to_submitted", StatusSubmitted, StatusSubmitted, false},

		// Failure is reachable from any live state
		{"pending_to_failed", StatusPending, StatusFailed, true},
		{"routing_to_failed", StatusRouting, StatusFailed, true},
		{"submitted_to_failed", StatusSubmitted, StatusFailed, true},

		// Terminal states never advance
		{"confirmed_to_failed", StatusConfirmed, StatusFailed, false},
		{"confirmed_to_submitted", StatusConfirmed, StatusSubmitted, false},
		{"failed_to_routing", StatusFailed, StatusRouting, false},
		{"failed_to_failed", StatusFailed, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestOrder_JSONShape(t *testing.T) {
	venue := "orca"
	txHash := "tx-abc"
	price := 0.9975

	order := Order{
		ID:            "ord-1",
		TokenIn:       "USDC",
		TokenOut:      "SOL",
		AmountIn:      1_000_000,
		Slippage:      0.01,
		Status:        StatusConfirmed,
		SelectedVenue: &venue,
		TxHash:        &txHash,
		ExecutedPrice: &price,
		CreatedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC),
	}

	raw, err := json.Marshal(order)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "ord-1", decoded["orderId"])
	assert.Equal(t, "USDC", decoded["tokenIn"])
	assert.Equal(t, "orca", decoded["selectedVenue"])
	assert.Equal(t, "tx-abc", decoded["txHash"])
	assert.NotContains(t, decoded, "failureReason", "nil fields stay off the wire")
	assert.NotContains(t, decoded, "confirmedAt")
}
