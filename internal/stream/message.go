// Package stream fans order lifecycle events out to the clients
// watching each order over its WebSocket connection.
package stream

import (
	"time"

	"github.com/coinexec/orderflow/internal/persistence"
)

// Message is one lifecycle event on an order's status stream
type Message struct {
	OrderID   string                  `json:"orderId"`
	Status    persistence.OrderStatus `json:"status"`
	Timestamp int64                   `json:"timestamp"`
	Data      *Data                   `json:"data,omitempty"`
}

// Data carries the status-specific payload of a stream message
type Data struct {
	TxHash          string           `json:"txHash,omitempty"`
	ExecutedPrice   float64          `json:"executedPrice,omitempty"`
	Error           string           `json:"error,omitempty"`
	RoutingDecision *RoutingDecision `json:"routingDecision,omitempty"`
}

// RoutingDecision reports the venue comparison behind a `building`
// transition. Venue A and B follow the configured venue order; a venue
// dropped from the comparison carries no price on the wire.
type RoutingDecision struct {
	SelectedVenue string  `json:"selectedVenue"`
	VenueAPrice   float64 `json:"venueAPrice,omitempty"`
	VenueBPrice   float64 `json:"venueBPrice,omitempty"`
}

// ErrorFrame is the terminal frame sent when a submission is rejected
// before an order exists
type ErrorFrame struct {
	Error       ErrorBody `json:"error"`
	TimestampMs int64     `json:"timestampMs"`
}

// ErrorBody is the code/message pair inside an error frame
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage stamps a lifecycle event with the current time
func NewMessage(orderID string, status persistence.OrderStatus, data *Data) *Message {
	return &Message{
		OrderID:   orderID,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorFrame builds a rejection frame
func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{
		Error:       ErrorBody{Code: code, Message: message},
		TimestampMs: time.Now().UnixMilli(),
	}
}
