package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coinexec/orderflow/internal/errs"
)

// scriptedAdapter fails while failing is true and counts invocations.
type scriptedAdapter struct {
	name    string
	failing bool
	calls   int
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn int64) (*Quote, error) {
	s.calls++
	if s.failing {
		return nil, errors.New("venue unavailable")
	}
	return &Quote{Venue: s.name, RawPrice: 1.0, EffectivePrice: 1.0, EstimatedOutput: amountIn}, nil
}

func (s *scriptedAdapter) Swap(ctx context.Context, params *SwapParams) (*SwapResult, error) {
	s.calls++
	if s.failing {
		return nil, errors.New("venue unavailable")
	}
	return &SwapResult{TxHash: "tx", AmountIn: params.AmountIn, AmountOut: params.AmountIn}, nil
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	inner := &scriptedAdapter{name: "raydium", failing: true}
	wrapped := WithBreaker(inner, BreakerSettings{
		FailureThreshold: 5,
		ResetTimeout:     time.Hour,
		MonitoringPeriod: time.Hour,
	}, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := wrapped.Quote(ctx, "SOL", "USDC", 1); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	if inner.calls != 5 {
		t.Fatalf("expected 5 venue calls before opening, got %d", inner.calls)
	}

	// Breaker is open now: fail fast without touching the venue.
	_, err := wrapped.Quote(ctx, "SOL", "USDC", 1)
	if err == nil {
		t.Fatal("expected fail-fast error while open")
	}
	if inner.calls != 5 {
		t.Errorf("open breaker must not invoke the venue, calls = %d", inner.calls)
	}

	var typed *errs.Error
	if !errors.As(err, &typed) {
		t.Fatalf("expected a classified error, got %T", err)
	}
	if typed.Kind != errs.KindSystem {
		t.Errorf("kind = %s, want SYSTEM", typed.Kind)
	}
	if typed.Retryable {
		t.Error("breaker-open errors must be non-retryable")
	}
	if BreakerState(wrapped) != "open" {
		t.Errorf("state = %s, want open", BreakerState(wrapped))
	}
}

func TestBreakerHalfOpenProbeCloses(t *testing.T) {
	inner := &scriptedAdapter{name: "orca", failing: true}
	wrapped := WithBreaker(inner, BreakerSettings{
		FailureThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
		MonitoringPeriod: time.Hour,
	}, nil)

	ctx := context.Background()
	wrapped.Quote(ctx, "SOL", "USDC", 1)
	wrapped.Quote(ctx, "SOL", "USDC", 1)
	if BreakerState(wrapped) != "open" {
		t.Fatalf("state = %s, want open after threshold", BreakerState(wrapped))
	}

	// After the reset timeout a single successful probe closes the breaker.
	time.Sleep(80 * time.Millisecond)
	inner.failing = false
	if _, err := wrapped.Quote(ctx, "SOL", "USDC", 1); err != nil {
		t.Fatalf("probe should be admitted and succeed: %v", err)
	}
	if BreakerState(wrapped) != "closed" {
		t.Errorf("state = %s, want closed after successful probe", BreakerState(wrapped))
	}

	if _, err := wrapped.Swap(ctx, &SwapParams{Venue: "orca", AmountIn: 10, MinAmountOut: 1}); err != nil {
		t.Errorf("closed breaker should pass calls through: %v", err)
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	inner := &scriptedAdapter{name: "raydium", failing: true}
	wrapped := WithBreaker(inner, BreakerSettings{
		FailureThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
		MonitoringPeriod: time.Hour,
	}, nil)

	ctx := context.Background()
	wrapped.Quote(ctx, "SOL", "USDC", 1)
	wrapped.Quote(ctx, "SOL", "USDC", 1)

	time.Sleep(80 * time.Millisecond)
	wrapped.Quote(ctx, "SOL", "USDC", 1) // failing probe
	if BreakerState(wrapped) != "open" {
		t.Errorf("state = %s, want open after failed probe", BreakerState(wrapped))
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	inner := &scriptedAdapter{name: "orca", failing: true}
	wrapped := WithBreaker(inner, BreakerSettings{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		MonitoringPeriod: time.Hour,
	}, func(venueName, from, to string) {
		transitions = append(transitions, venueName+":"+from+"->"+to)
	})

	wrapped.Quote(context.Background(), "SOL", "USDC", 1)
	if len(transitions) != 1 || transitions[0] != "orca:closed->open" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}
