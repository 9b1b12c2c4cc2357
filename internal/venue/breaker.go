package venue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/coinexec/orderflow/internal/errs"
)

// BreakerSettings configures the per-venue circuit breaker. Defaults match
// the pipeline policy: open after 5 consecutive failures inside a 120 s
// monitoring window, stay open 60 s, then admit a single half-open probe.
type BreakerSettings struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
	MonitoringPeriod time.Duration
}

// DefaultBreakerSettings returns the standard venue guard parameters.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		MonitoringPeriod: 120 * time.Second,
	}
}

// StateChangeFunc is notified on breaker transitions, with gobreaker's
// state names ("closed", "half-open", "open").
type StateChangeFunc func(venueName, from, to string)

type breakerAdapter struct {
	inner Adapter
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker wraps an adapter so every Quote and Swap runs through a
// circuit breaker. While the breaker is open, calls fail fast with a
// non-retryable SYSTEM error and never reach the venue.
func WithBreaker(inner Adapter, settings BreakerSettings, onChange StateChangeFunc) Adapter {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = DefaultBreakerSettings().ResetTimeout
	}
	if settings.MonitoringPeriod <= 0 {
		settings.MonitoringPeriod = DefaultBreakerSettings().MonitoringPeriod
	}

	name := inner.Name()
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    settings.MonitoringPeriod,
		Timeout:     settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.Warn().
				Str("venue", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("venue circuit breaker state change")
			if onChange != nil {
				onChange(name, from.String(), to.String())
			}
		},
	}

	return &breakerAdapter{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(st),
	}
}

func (b *breakerAdapter) Name() string {
	return b.inner.Name()
}

func (b *breakerAdapter) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn int64) (*Quote, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Quote(ctx, tokenIn, tokenOut, amountIn)
	})
	if err != nil {
		return nil, b.translate(err)
	}
	return res.(*Quote), nil
}

func (b *breakerAdapter) Swap(ctx context.Context, params *SwapParams) (*SwapResult, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Swap(ctx, params)
	})
	if err != nil {
		return nil, b.translate(err)
	}
	return res.(*SwapResult), nil
}

// translate maps gobreaker's fail-fast sentinels onto the pipeline error
// taxonomy; genuine venue errors pass through untouched.
func (b *breakerAdapter) translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.Wrap(errs.KindSystem, err, "circuit breaker OPEN for venue "+b.inner.Name()).
			NonRetryable().
			WithContext("venue", b.inner.Name())
	}
	return err
}

// BreakerState exposes the current breaker state for health and metrics;
// returns "" when the adapter is not breaker-wrapped.
func BreakerState(a Adapter) string {
	if ba, ok := a.(*breakerAdapter); ok {
		return ba.cb.State().String()
	}
	return ""
}
