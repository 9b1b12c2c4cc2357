// Package pipeline drives orders through the execution state machine:
// pending, routing, building, submitted, then confirmed or failed.
package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coinexec/orderflow/internal/errs"
)

// RetryConfig parameterizes exponential backoff for the quote and swap
// phases
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the standard pipeline retry parameters
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    4 * time.Second,
	}
}

// BackoffDelay returns min(base * multiplier^(n-1), max) for a 1-based
// attempt number
func (c RetryConfig) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	delay := time.Duration(float64(c.BaseDelay) * math.Pow(multiplier, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Retry runs op until it succeeds, returns a non-retryable error, or
// exhausts MaxAttempts. Backoff sleeps are cut short when ctx ends; the
// last operation error is returned either way.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !errs.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts || ctx.Err() != nil {
			break
		}

		delay := cfg.BackoffDelay(attempt)
		log.Debug().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying after backoff")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return lastErr
		case <-t.C:
		}
	}

	return lastErr
}
