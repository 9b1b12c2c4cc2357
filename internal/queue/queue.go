// Package queue provides the durable work queue feeding the execution
// pipeline. Jobs are keyed by order identifier, delivered at least once,
// and redelivered with exponential backoff when the handler errors.
package queue

import (
	"context"
	"time"
)

// Job is the unit of work drained by the pipeline workers. It carries
// the swap request so a worker can process it without a store read,
// plus the delivery attempt counter maintained by the queue.
type Job struct {
	OrderID    string    `json:"orderId"`
	TokenIn    string    `json:"tokenIn"`
	TokenOut   string    `json:"tokenOut"`
	AmountIn   int64     `json:"amountIn"`
	Slippage   float64   `json:"slippage"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Stats is a point-in-time snapshot of queue depths
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Paused    bool  `json:"paused"`
}

// Handler processes one delivered job. A nil return completes the job;
// an error return triggers redelivery under the retry policy.
type Handler func(ctx context.Context, job *Job) error

// RetryPolicy governs queue-level redelivery. Attempt numbers are
// 1-based: Backoff(1) is the delay after the first failed delivery.
type RetryPolicy struct {
	// MaxAttempts caps total deliveries of one job
	MaxAttempts int

	// Backoff maps a completed attempt count to the redelivery delay
	Backoff func(attempt int) time.Duration

	// Permanent short-circuits redelivery for errors that retrying
	// cannot fix. May be nil.
	Permanent func(err error) bool
}

// Queue is the contract between the submission endpoint, the pipeline
// workers and the ops CLI. Enqueuing an order identifier that already
// has a live job is a no-op.
type Queue interface {
	// Enqueue adds a job keyed by its order identifier. Returns false
	// when a job with the same identifier is already live.
	Enqueue(ctx context.Context, job *Job) (bool, error)

	// Start launches the consumer pool against the handler
	Start(handler Handler) error

	// Pause stops job delivery without dropping anything
	Pause(ctx context.Context) error

	// Resume restarts delivery after a pause
	Resume(ctx context.Context) error

	// Drain removes all not-yet-started jobs, returning the count
	Drain(ctx context.Context) (int64, error)

	// Stats reports queue depths and the paused flag
	Stats(ctx context.Context) (*Stats, error)

	// Close stops consumers, waiting for in-flight jobs until ctx
	// expires, then force-cancels them
	Close(ctx context.Context) error
}
