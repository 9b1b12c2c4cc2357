package stream

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/coinexec/orderflow/internal/persistence"
)

// Subscriber receives lifecycle events for one order. Send must be
// safe to call from the pipeline worker while the transport handles
// its own reads and disconnects.
type Subscriber interface {
	Send(msg *Message) error
	Close() error
}

// Hub maps order identifiers to their subscribers. The submission
// endpoint attaches, the pipeline worker emits, and disconnect
// callbacks detach, all concurrently.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]Subscriber
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]Subscriber)}
}

// Attach registers a subscriber for an order
func (h *Hub) Attach(orderID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[orderID] = append(h.subs[orderID], sub)
}

// Detach removes one subscriber and closes it best-effort. The mapping
// disappears when its last subscriber goes.
func (h *Hub) Detach(orderID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.subs[orderID][:0]
	for _, s := range h.subs[orderID] {
		if s != sub {
			kept = append(kept, s)
		}
	}

	if len(kept) == 0 {
		delete(h.subs, orderID)
	} else {
		h.subs[orderID] = kept
	}

	sub.Close()
}

// Emit sends a lifecycle event to every subscriber of an order.
// Subscribers whose send fails are pruned and closed.
func (h *Hub) Emit(orderID string, status persistence.OrderStatus, data *Data) {
	msg := NewMessage(orderID, status, data)

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[orderID]
	if !ok {
		return
	}

	kept := subs[:0]
	for _, sub := range subs {
		if err := sub.Send(msg); err != nil {
			log.Debug().Err(err).
				Str("orderId", orderID).
				Str("status", string(status)).
				Msg("pruning dead stream subscriber")
			sub.Close()
			continue
		}
		kept = append(kept, sub)
	}

	if len(kept) == 0 {
		delete(h.subs, orderID)
	} else {
		h.subs[orderID] = kept
	}
}

// DetachAll closes and removes every subscriber of one order, used
// when the order reaches a terminal status
func (h *Hub) DetachAll(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[orderID] {
		sub.Close()
	}
	delete(h.subs, orderID)
}

// CloseAll closes every subscriber on shutdown
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for orderID, subs := range h.subs {
		for _, sub := range subs {
			sub.Close()
		}
		delete(h.subs, orderID)
	}
}

// Subscribers reports the subscriber count for one order
func (h *Hub) Subscribers(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[orderID])
}

// Orders reports how many orders currently have subscribers
func (h *Hub) Orders() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Total reports the subscriber count across all orders, for the
// metrics gauge
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}
