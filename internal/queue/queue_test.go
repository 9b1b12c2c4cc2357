package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeJob(orderID string) *Job {
	return &Job{
		OrderID:  orderID,
		TokenIn:  "USDC",
		TokenOut: "So11111111111111111111111111111111111111112",
		AmountIn: 1_000_000,
		Slippage: 0.01,
	}
}

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     func(attempt int) time.Duration { return 15 * time.Millisecond },
	}
}

func closeQueue(t *testing.T, q Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
}

func TestMemoryQueue_CompletesJobsInOrder(t *testing.T) {
	q := NewMemoryQueue(1, fastPolicy(3))
	defer closeQueue(t, q)

	var mu sync.Mutex
	var processed []string

	require.NoError(t, q.Start(func(ctx context.Context, job *Job) error {
		mu.Lock()
		processed = append(processed, job.OrderID)
		mu.Unlock()
		return nil
	}))

	for _, id := range []string{"ord-a", "ord-b", "ord-c"} {
		ok, err := q.Enqueue(context.Background(), makeJob(id))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	assert.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Completed == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ord-a", "ord-b", "ord-c"}, processed)
}

func TestMemoryQueue_DuplicateEnqueueIsNoOp(t *testing.T) {
	q := NewMemoryQueue(1, fastPolicy(3))
	defer closeQueue(t, q)

	ok, err := q.Enqueue(context.Background(), makeJob("ord-1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue(context.Background(), makeJob("ord-1"))
	require.NoError(t, err)
	assert.False(t, ok, "second enqueue of a live identifier must be a no-op")

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)

	// Once the job completes the identifier is free again
	require.NoError(t, q.Start(func(ctx context.Context, job *Job) error { return nil }))

	assert.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Completed == 1
	}, time.Second, 10*time.Millisecond)

	ok, err = q.Enqueue(context.Background(), makeJob("ord-1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryQueue_RejectsJobWithoutID(t *testing.T) {
	q := NewMemoryQueue(1, fastPolicy(3))
	defer closeQueue(t, q)

	_, err := q.Enqueue(context.Background(), &Job{TokenIn: "USDC", TokenOut: "SOL"})
	assert.Error(t, err)
}

func TestMemoryQueue_RedeliversWithBackoff(t *testing.T) {
	q := NewMemoryQueue(1, fastPolicy(3))
	defer closeQueue(t, q)

	var mu sync.Mutex
	var seenAttempts []int
	var deliveries []time.Time

	require.NoError(t, q.Start(func(ctx context.Context, job *Job) error {
		mu.Lock()
		seenAttempts = append(seenAttempts, job.Attempts)
		deliveries = append(deliveries, time.Now())
		mu.Unlock()
		if job.Attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	}))

	_, err := q.Enqueue(context.Background(), makeJob("ord-1"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, seenAttempts)
	require.Len(t, deliveries, 3)
	assert.GreaterOrEqual(t, deliveries[1].Sub(deliveries[0]), 15*time.Millisecond)
	assert.GreaterOrEqual(t, deliveries[2].Sub(deliveries[1]), 15*time.Millisecond)
}

func TestMemoryQueue_PermanentErrorSkipsRedelivery(t *testing.T) {
	policy := fastPolicy(3)
	policy.Permanent = func(err error) bool { return true }

	q := NewMemoryQueue(1, policy)
	defer closeQueue(t, q)

	var mu sync.Mutex
	calls := 0

	require.NoError(t, q.Start(func(ctx context.Context, job *Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("amount must be greater than 0")
	}))

	_, err := q.Enqueue(context.Background(), makeJob("ord-1"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Failed == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestMemoryQueue_ExhaustedAttemptsFail(t *testing.T) {
	q := NewMemoryQueue(1, fastPolicy(2))
	defer closeQueue(t, q)

	var mu sync.Mutex
	calls := 0

	require.NoError(t, q.Start(func(ctx context.Context, job *Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("venue timeout")
	}))

	_, err := q.Enqueue(context.Background(), makeJob("ord-1"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Failed == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestMemoryQueue_PauseAndResume(t *testing.T) {
	q := NewMemoryQueue(1, fastPolicy(3))
	defer closeQueue(t, q)

	var mu sync.Mutex
	calls := 0

	require.NoError(t, q.Pause(context.Background()))
	require.NoError(t, q.Start(func(ctx context.Context, job *Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}))

	_, err := q.Enqueue(context.Background(), makeJob("ord-1"))
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, calls, "paused queue must not deliver")
	mu.Unlock()

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Paused)
	assert.Equal(t, int64(1), stats.Waiting)

	require.NoError(t, q.Resume(context.Background()))

	assert.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Completed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryQueue_DrainRemovesWaitingJobs(t *testing.T) {
	q := NewMemoryQueue(1, fastPolicy(3))
	defer closeQueue(t, q)

	for _, id := range []string{"ord-a", "ord-b", "ord-c"} {
		_, err := q.Enqueue(context.Background(), makeJob(id))
		require.NoError(t, err)
	}

	drained, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), drained)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting)

	// Drained identifiers can be enqueued again
	ok, err := q.Enqueue(context.Background(), makeJob("ord-a"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryQueue_CloseWaitsForActiveJob(t *testing.T) {
	q := NewMemoryQueue(1, fastPolicy(3))

	started := make(chan struct{})
	var mu sync.Mutex
	finished := false

	require.NoError(t, q.Start(func(ctx context.Context, job *Job) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	}))

	_, err := q.Enqueue(context.Background(), makeJob("ord-1"))
	require.NoError(t, err)

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished, "close must wait for the in-flight job")
}

func TestRedisQueue_KeyLayout(t *testing.T) {
	q := &RedisQueue{name: "orders"}

	assert.Equal(t, "orderflow:queue:orders:wait", q.key("wait"))
	assert.Equal(t, "orderflow:queue:orders:job:ord-1", q.jobKey("ord-1"))
}
