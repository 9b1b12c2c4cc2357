package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coinexec/orderflow/internal/cache"
	"github.com/coinexec/orderflow/internal/executor"
	"github.com/coinexec/orderflow/internal/persistence"
	"github.com/coinexec/orderflow/internal/queue"
	"github.com/coinexec/orderflow/internal/stream"
)

const (
	codeValidationError = "VALIDATION_ERROR"
	codeNotFound        = "NOT_FOUND"
	codeInternalError   = "INTERNAL_ERROR"

	submissionReadTimeout = 30 * time.Second
	maxSubmissionBytes    = 64 << 10
	storeOpTimeout        = 10 * time.Second

	defaultListLimit = 20
	maxListLimit     = 100
)

// OrderCache is the advisory read-through cache surface the handlers use.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*persistence.Order, bool, error)
	Set(ctx context.Context, order *persistence.Order) error
}

var _ OrderCache = (*cache.OrderCache)(nil)

// OrdersHandler owns the submission stream and the order read endpoints.
type OrdersHandler struct {
	store    persistence.OrderStore
	cache    OrderCache
	queue    queue.Queue
	hub      *stream.Hub
	slippage executor.Config
	metrics  *MetricsRegistry
	upgrader websocket.Upgrader
}

// NewOrdersHandler wires the submission and read endpoints. The cache and
// metrics may be nil.
func NewOrdersHandler(store persistence.OrderStore, orderCache OrderCache, q queue.Queue, hub *stream.Hub, slippage executor.Config, metrics *MetricsRegistry) *OrdersHandler {
	if slippage.DefaultSlippage <= 0 {
		slippage.DefaultSlippage = executor.DefaultConfig().DefaultSlippage
	}
	if slippage.MaxSlippage <= 0 {
		slippage.MaxSlippage = executor.DefaultConfig().MaxSlippage
	}
	return &OrdersHandler{
		store:    store,
		cache:    orderCache,
		queue:    q,
		hub:      hub,
		slippage: slippage,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Stream upgrades the connection, reads one submission frame, and either
// rejects it with an error frame or creates the order and keeps the
// connection attached as a lifecycle subscriber.
func (h *OrdersHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sub := stream.NewWSSubscriber(conn)
	conn.SetReadLimit(maxSubmissionBytes)
	_ = conn.SetReadDeadline(time.Now().Add(submissionReadTimeout))

	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = sub.Close()
		return
	}

	var submission Submission
	if err := json.Unmarshal(payload, &submission); err != nil {
		h.reject(sub, "invalid submission payload")
		return
	}

	v, err := ValidateSubmission(&submission, h.slippage.DefaultSlippage, h.slippage.MaxSlippage)
	if err != nil {
		h.reject(sub, err.Error())
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	order := &persistence.Order{
		TokenIn:  v.TokenIn,
		TokenOut: v.TokenOut,
		AmountIn: v.AmountIn,
		Slippage: v.Slippage,
	}
	if err := h.store.Create(ctx, order); err != nil {
		log.Error().Err(err).Msg("failed to create order")
		_ = sub.SendError(stream.NewErrorFrame(codeInternalError, "failed to create order"))
		_ = sub.Close()
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, order); err != nil {
			log.Warn().Err(err).Str("orderId", order.ID).Msg("cache set failed")
		}
	}
	if h.metrics != nil {
		h.metrics.RecordSubmission()
	}

	log.Info().
		Str("orderId", order.ID).
		Str("tokenIn", order.TokenIn).
		Str("tokenOut", order.TokenOut).
		Int64("amountIn", order.AmountIn).
		Float64("slippage", order.Slippage).
		Msg("order accepted")

	h.hub.Attach(order.ID, sub)

	if err := sub.Send(stream.NewMessage(order.ID, persistence.StatusPending, nil)); err != nil {
		h.hub.Detach(order.ID, sub)
		return
	}

	// Broadcast before enqueue so no subscriber can observe a later
	// status ahead of pending. The submitter holds the direct frame and
	// sees pending twice, which the stream contract allows.
	h.hub.Emit(order.ID, persistence.StatusPending, nil)

	job := &queue.Job{
		OrderID:  order.ID,
		TokenIn:  order.TokenIn,
		TokenOut: order.TokenOut,
		AmountIn: order.AmountIn,
		Slippage: order.Slippage,
	}
	enqueued, err := h.queue.Enqueue(ctx, job)
	if err != nil {
		h.failUnqueued(ctx, order, err)
		return
	}
	if !enqueued {
		log.Info().Str("orderId", order.ID).Msg("order already enqueued")
	}

	go h.readPump(conn, order.ID, sub)
}

// reject sends a validation error frame and closes the stream. The
// submission leaves no order, no cache entry and no job behind.
func (h *OrdersHandler) reject(sub *stream.WSSubscriber, message string) {
	if h.metrics != nil {
		h.metrics.RecordValidationReject()
	}
	log.Info().Str("reason", message).Msg("submission rejected")
	_ = sub.SendError(stream.NewErrorFrame(codeValidationError, message))
	_ = sub.Close()
}

// failUnqueued handles an order that persisted but never reached the
// queue: it is failed terminally so it cannot dangle in pending forever.
func (h *OrdersHandler) failUnqueued(ctx context.Context, order *persistence.Order, cause error) {
	log.Error().Err(cause).Str("orderId", order.ID).Msg("failed to enqueue order")

	reason := "failed to enqueue order"
	if _, err := h.store.UpdateStatus(ctx, order.ID, persistence.StatusFailed, &persistence.StatusPatch{FailureReason: &reason}); err != nil {
		log.Error().Err(err).Str("orderId", order.ID).Msg("failed to record enqueue failure")
	}
	if h.metrics != nil {
		h.metrics.RecordTerminal(string(persistence.StatusFailed), time.Since(order.CreatedAt))
	}
	h.hub.Emit(order.ID, persistence.StatusFailed, &stream.Data{Error: reason})
	h.hub.DetachAll(order.ID)
}

// readPump drains client frames until the connection dies, then detaches
// the subscriber. Clients never send data frames after the submission;
// the pump exists to observe the close.
func (h *OrdersHandler) readPump(conn *websocket.Conn, orderID string, sub *stream.WSSubscriber) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.hub.Detach(orderID, sub)
			return
		}
	}
}

// Get serves one order, reading through the cache.
func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	ctx := r.Context()

	if h.cache != nil {
		if order, ok, err := h.cache.Get(ctx, orderID); err == nil && ok {
			writeJSON(w, http.StatusOK, order)
			return
		}
	}

	order, err := h.store.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "order not found")
			return
		}
		log.Error().Err(err).Str("orderId", orderID).Msg("failed to load order")
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load order")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, order); err != nil {
			log.Warn().Err(err).Str("orderId", orderID).Msg("cache set failed")
		}
	}
	writeJSON(w, http.StatusOK, order)
}

// List serves the most recent orders, newest first.
func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, codeValidationError, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	orders, err := h.store.FindRecent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list orders")
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []persistence.Order{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// History serves an order's status trail, oldest first.
func (h *OrdersHandler) History(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	ctx := r.Context()

	if _, err := h.store.FindByID(ctx, orderID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "order not found")
			return
		}
		log.Error().Err(err).Str("orderId", orderID).Msg("failed to load order")
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load order")
		return
	}

	entries, err := h.store.StatusHistory(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Str("orderId", orderID).Msg("failed to load status history")
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load status history")
		return
	}
	if entries == nil {
		entries = []persistence.StatusHistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orderId": orderID,
		"history": entries,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
