package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// OrderStatus tracks an order through the execution pipeline
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusRouting   OrderStatus = "routing"
	StatusBuilding  OrderStatus = "building"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"
)

// Sentinel errors returned by OrderStore implementations
var (
	ErrNotFound  = errors.New("order not found")
	ErrDuplicate = errors.New("order already exists")
)

// statusRank orders the pipeline states for transition checks.
// Terminal states carry the highest rank so nothing advances past them.
var statusRank = map[OrderStatus]int{
	StatusPending:   1,
	StatusRouting:   2,
	StatusBuilding:  3,
	StatusSubmitted: 4,
	StatusConfirmed: 5,
	StatusFailed:    5,
}

// Valid reports whether s is a known pipeline status
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s ends the pipeline for an order
func (s OrderStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanAdvanceTo reports whether a transition from s to next keeps the
// status history monotonic. Redelivered jobs replay earlier pipeline
// stages; the rank guard stops them from writing duplicate or
// out-of-order transitions. Failure is reachable from any live state.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// Order is a swap request moving through the execution pipeline.
// Nullable columns are pointers so unset values round-trip as NULL.
type Order struct {
	ID            string      `json:"orderId" db:"id"`
	TokenIn       string      `json:"tokenIn" db:"token_in"`
	TokenOut      string      `json:"tokenOut" db:"token_out"`
	AmountIn      int64       `json:"amountIn" db:"amount_in"`
	Slippage      float64     `json:"slippage" db:"slippage"`
	Status        OrderStatus `json:"status" db:"status"`
	SelectedVenue *string     `json:"selectedVenue,omitempty" db:"selected_venue"`
	TxHash        *string     `json:"txHash,omitempty" db:"tx_hash"`
	ExecutedPrice *float64    `json:"executedPrice,omitempty" db:"executed_price"`
	AmountOut     *int64      `json:"amountOut,omitempty" db:"amount_out"`
	FeeAmount     *int64      `json:"feeAmount,omitempty" db:"fee_amount"`
	FailureReason *string     `json:"failureReason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time   `json:"updatedAt" db:"updated_at"`
	ConfirmedAt   *time.Time  `json:"confirmedAt,omitempty" db:"confirmed_at"`
}

// StatusHistoryEntry is one row of an order's append-only status trail
type StatusHistoryEntry struct {
	ID        int64           `json:"id" db:"id"`
	OrderID   string          `json:"orderId" db:"order_id"`
	Status    OrderStatus     `json:"status" db:"status"`
	Timestamp time.Time       `json:"timestamp" db:"created_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}

// StatusPatch carries the execution fields written alongside a status
// transition. Nil fields leave the order row untouched.
type StatusPatch struct {
	SelectedVenue *string
	TxHash        *string
	ExecutedPrice *float64
	AmountOut     *int64
	FeeAmount     *int64
	FailureReason *string
	Metadata      map[string]interface{}
}

// OrderStore provides durable order persistence with status history
type OrderStore interface {
	// Create inserts a new pending order and its first history row
	Create(ctx context.Context, order *Order) error

	// UpdateStatus transitions an order and appends a history row
	// atomically, applying any non-nil patch fields
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus, patch *StatusPatch) (*Order, error)

	// FindByID returns the order or ErrNotFound
	FindByID(ctx context.Context, orderID string) (*Order, error)

	// FindRecent returns the newest orders first, capped at limit
	FindRecent(ctx context.Context, limit int) ([]Order, error)

	// StatusHistory returns an order's transitions, oldest first
	StatusHistory(ctx context.Context, orderID string) ([]StatusHistoryEntry, error)
}
