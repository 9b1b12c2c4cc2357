package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coinexec/orderflow/internal/cache"
	"github.com/coinexec/orderflow/internal/errs"
	"github.com/coinexec/orderflow/internal/executor"
	"github.com/coinexec/orderflow/internal/persistence"
	"github.com/coinexec/orderflow/internal/queue"
	"github.com/coinexec/orderflow/internal/router"
	"github.com/coinexec/orderflow/internal/stream"
	"github.com/coinexec/orderflow/internal/venue"
)

// OrderCache is the slice of the cache surface the worker touches. The
// cache is advisory; a cache failure never fails a transition.
type OrderCache interface {
	Set(ctx context.Context, order *persistence.Order) error
	Delete(ctx context.Context, orderID string) error
}

var _ OrderCache = (*cache.OrderCache)(nil)

// StatusStream receives every committed transition so subscribers see the
// lifecycle live.
type StatusStream interface {
	Emit(orderID string, status persistence.OrderStatus, data *stream.Data)
	DetachAll(orderID string)
}

// Hooks are optional observation points. OnTerminal fires exactly once per
// processed order, after confirmed or failed is committed.
type Hooks struct {
	OnTerminal func(order *persistence.Order)
}

// Config controls the worker's phase retries and how many queue deliveries
// it rides before burying an undeliverable order.
type Config struct {
	Retry         RetryConfig
	MaxDeliveries int
}

// DefaultConfig returns the standard worker parameters.
func DefaultConfig() Config {
	retry := DefaultRetryConfig()
	return Config{
		Retry:         retry,
		MaxDeliveries: retry.MaxAttempts,
	}
}

// Worker processes one queued order end to end: load, route, execute,
// confirm, emitting a stream message for every committed transition.
// Handle is safe under at-least-once delivery; replayed jobs fast-forward
// past transitions that already happened.
type Worker struct {
	store    persistence.OrderStore
	cache    OrderCache
	router   *router.Router
	executor *executor.Executor
	hub      StatusStream
	bus      *errs.Bus
	cfg      Config
	hooks    Hooks
}

// NewWorker wires the pipeline stages together. All dependencies except
// the cache are required.
func NewWorker(store persistence.OrderStore, orderCache OrderCache, rt *router.Router, ex *executor.Executor, hub StatusStream, bus *errs.Bus, cfg Config) *Worker {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = cfg.Retry.MaxAttempts
	}
	return &Worker{
		store:    store,
		cache:    orderCache,
		router:   rt,
		executor: ex,
		hub:      hub,
		bus:      bus,
		cfg:      cfg,
	}
}

// SetHooks installs observation hooks. Call before the queue starts.
func (w *Worker) SetHooks(h Hooks) {
	w.hooks = h
}

// Handle is the queue handler. A nil return settles the job, including the
// case where the order terminally failed; a non-nil return asks the queue
// to redeliver and is reserved for infrastructure faults.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	logger := log.With().
		Str("orderId", job.OrderID).
		Int("delivery", job.Attempts).
		Logger()

	order, err := w.store.FindByID(ctx, job.OrderID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			logger.Warn().Msg("job references unknown order, dropping")
			return nil
		}
		return w.infra(ctx, job, nil, err)
	}

	if order.Status.Terminal() {
		logger.Debug().
			Str("status", string(order.Status)).
			Msg("order already terminal, dropping redelivered job")
		return nil
	}

	start := time.Now()
	logger.Info().
		Str("tokenIn", job.TokenIn).
		Str("tokenOut", job.TokenOut).
		Int64("amountIn", job.AmountIn).
		Float64("slippage", job.Slippage).
		Msg("processing order")

	if err := w.advance(ctx, order, persistence.StatusRouting, nil, nil); err != nil {
		return w.infra(ctx, job, order, err)
	}

	quotes, best, err := w.quotePhase(ctx, job)
	if err != nil {
		return w.fail(ctx, order, err)
	}

	decision := w.decision(quotes, best)
	buildPatch := &persistence.StatusPatch{
		SelectedVenue: &best.Venue,
		Metadata: map[string]interface{}{
			"selectedVenue": decision.SelectedVenue,
			"venueAPrice":   decision.VenueAPrice,
			"venueBPrice":   decision.VenueBPrice,
		},
	}
	if err := w.advance(ctx, order, persistence.StatusBuilding, buildPatch, &stream.Data{RoutingDecision: decision}); err != nil {
		return w.infra(ctx, job, order, err)
	}

	result, err := w.swapPhase(ctx, job, best)
	if err != nil {
		return w.fail(ctx, order, err)
	}

	submitPatch := &persistence.StatusPatch{TxHash: &result.TxHash}
	if err := w.advance(ctx, order, persistence.StatusSubmitted, submitPatch, &stream.Data{TxHash: result.TxHash}); err != nil {
		return w.infra(ctx, job, order, err)
	}

	confirmPatch := &persistence.StatusPatch{
		ExecutedPrice: &result.ExecutedPrice,
		AmountOut:     &result.AmountOut,
		FeeAmount:     &result.FeeAmount,
	}
	confirmData := &stream.Data{TxHash: result.TxHash, ExecutedPrice: result.ExecutedPrice}
	if err := w.advance(ctx, order, persistence.StatusConfirmed, confirmPatch, confirmData); err != nil {
		return w.infra(ctx, job, order, err)
	}

	logger.Info().
		Str("venue", best.Venue).
		Str("txHash", result.TxHash).
		Int64("amountOut", result.AmountOut).
		Dur("elapsed", time.Since(start)).
		Msg("order confirmed")

	w.finishTerminal(order)
	return nil
}

// quotePhase fans out for quotes and selects the winner, retrying the
// whole comparison on retryable routing faults.
func (w *Worker) quotePhase(ctx context.Context, job *queue.Job) ([]*venue.Quote, *venue.Quote, error) {
	var quotes []*venue.Quote
	var best *venue.Quote
	err := Retry(ctx, w.cfg.Retry, func(ctx context.Context) error {
		qs, err := w.router.GetQuotes(ctx, job.TokenIn, job.TokenOut, job.AmountIn)
		if err != nil {
			return err
		}
		b, err := w.router.SelectBest(qs)
		if err != nil {
			return err
		}
		quotes, best = qs, b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return quotes, best, nil
}

// swapPhase executes against the winning venue, retrying retryable
// execution faults. A slippage breach counts as retryable; the price may
// have moved back by the next attempt.
func (w *Worker) swapPhase(ctx context.Context, job *queue.Job, best *venue.Quote) (*venue.SwapResult, error) {
	tokenIn := w.router.Rewrite(job.TokenIn)
	tokenOut := w.router.Rewrite(job.TokenOut)

	var result *venue.SwapResult
	err := Retry(ctx, w.cfg.Retry, func(ctx context.Context) error {
		res, err := w.executor.ExecuteSwap(ctx, best, tokenIn, tokenOut, job.AmountIn, &job.Slippage)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// decision flattens the compared quotes into the client-facing routing
// report. Venue A and B follow the configured venue order; a venue that
// produced no quote reports a zero price.
func (w *Worker) decision(quotes []*venue.Quote, best *venue.Quote) *stream.RoutingDecision {
	d := &stream.RoutingDecision{SelectedVenue: best.Venue}
	names := w.router.VenueNames()
	for _, q := range quotes {
		switch {
		case len(names) > 0 && q.Venue == names[0]:
			d.VenueAPrice = q.EffectivePrice
		case len(names) > 1 && q.Venue == names[1]:
			d.VenueBPrice = q.EffectivePrice
		}
	}
	return d
}

// advance commits one status transition and emits it. Transitions the rank
// guard rejects are skipped silently so replayed jobs cannot rewind an
// order or duplicate a stream message.
func (w *Worker) advance(ctx context.Context, order *persistence.Order, next persistence.OrderStatus, patch *persistence.StatusPatch, data *stream.Data) error {
	if !order.Status.CanAdvanceTo(next) {
		log.Debug().
			Str("orderId", order.ID).
			Str("from", string(order.Status)).
			Str("to", string(next)).
			Msg("transition already applied, skipping")
		return nil
	}

	updated, err := w.store.UpdateStatus(ctx, order.ID, next, patch)
	if err != nil {
		return err
	}
	*order = *updated

	if w.cache != nil {
		var cacheErr error
		if next.Terminal() {
			cacheErr = w.cache.Delete(ctx, order.ID)
		} else {
			cacheErr = w.cache.Set(ctx, order)
		}
		if cacheErr != nil {
			log.Warn().
				Err(cacheErr).
				Str("orderId", order.ID).
				Msg("cache refresh failed")
		}
	}

	w.hub.Emit(order.ID, next, data)
	return nil
}

// report surfaces SYSTEM errors on the bus for operators.
func (w *Worker) report(e *errs.Error) {
	if e.Kind == errs.KindSystem && w.bus != nil {
		w.bus.Publish(e)
	}
}

// fail terminally fails the order with the cause's message as the reason.
// SYSTEM causes are also published on the error bus. Only a store failure
// while recording the terminal state propagates back to the queue.
func (w *Worker) fail(ctx context.Context, order *persistence.Order, cause error) error {
	e := errs.From(cause)
	w.report(e)
	if order.Status.Terminal() {
		return nil
	}

	reason := e.Message
	patch := &persistence.StatusPatch{
		FailureReason: &reason,
		Metadata:      map[string]interface{}{"kind": string(e.Kind)},
	}
	if err := w.advance(ctx, order, persistence.StatusFailed, patch, &stream.Data{Error: reason}); err != nil {
		log.Error().
			Err(err).
			Str("orderId", order.ID).
			Str("reason", reason).
			Msg("failed to record terminal failure")
		return err
	}

	log.Warn().
		Str("orderId", order.ID).
		Str("kind", string(e.Kind)).
		Str("reason", reason).
		Msg("order failed")

	w.finishTerminal(order)
	return nil
}

// infra handles faults in the transition machinery itself (store or cache
// infrastructure, not venue outcomes). While deliveries remain the job is
// returned to the queue; on the last delivery the order is failed so it
// cannot dangle in a live state forever.
func (w *Worker) infra(ctx context.Context, job *queue.Job, order *persistence.Order, cause error) error {
	if errs.Retryable(cause) && job.Attempts < w.cfg.MaxDeliveries {
		w.report(errs.From(cause))
		log.Warn().
			Err(cause).
			Str("orderId", job.OrderID).
			Int("delivery", job.Attempts).
			Msg("transient fault, returning job for redelivery")
		return cause
	}

	if order == nil {
		w.report(errs.From(cause))
		return cause
	}
	return w.fail(ctx, order, cause)
}

// finishTerminal closes out a finished order: subscribers detach and the
// terminal hook fires.
func (w *Worker) finishTerminal(order *persistence.Order) {
	w.hub.DetachAll(order.ID)
	if w.hooks.OnTerminal != nil {
		w.hooks.OnTerminal(order)
	}
}
