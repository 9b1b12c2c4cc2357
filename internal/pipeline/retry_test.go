package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinexec/orderflow/internal/errs"
)

func TestRetryConfig_BackoffDelay(t *testing.T) {
	cfg := DefaultRetryConfig()

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first_attempt", 1, time.Second},
		{"second_attempt", 2, 2 * time.Second},
		{"third_attempt", 3, 4 * time.Second},
		{"capped_at_max", 4, 4 * time.Second},
		{"way_past_cap", 10, 4 * time.Second},
		{"zero_clamps_to_first", 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.BackoffDelay(tt.attempt))
		})
	}
}

func TestRetryConfig_BackoffDelayWithoutMultiplier(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, cfg.BackoffDelay(1))
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffDelay(5))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.Routing("all venues failed")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond}

	calls := 0
	cause := errs.Validation("slippage must be greater than or equal to 0")
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return cause
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, cause, err)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errs.Execution("venue rejected transaction")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errs.IsKind(err, errs.KindExecution))
}

func TestRetry_ContextCancelCutsBackoffShort(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		calls++
		cancel()
		return errs.Routing("all venues failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{}, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
