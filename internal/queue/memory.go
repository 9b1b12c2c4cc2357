package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const memoryPollEvery = 5 * time.Millisecond

// MemoryQueue mirrors the Redis queue semantics without a broker:
// FIFO delivery, identifier dedup, attempt counting and backoff
// redelivery. It backs tests and broker-less development runs.
type MemoryQueue struct {
	policy      RetryPolicy
	concurrency int

	mu        sync.Mutex
	wait      []string
	delayed   map[string]time.Time
	jobs      map[string]*Job
	live      map[string]bool
	active    int64
	completed int64
	failed    int64
	paused    bool

	handler Handler
	wg      sync.WaitGroup

	consumeCtx    context.Context
	cancelConsume context.CancelFunc
	jobCtx        context.Context
	cancelJobs    context.CancelFunc

	startOnce sync.Once
}

// NewMemoryQueue creates an in-memory queue with the given consumer
// pool size and retry policy
func NewMemoryQueue(concurrency int, policy RetryPolicy) *MemoryQueue {
	if concurrency <= 0 {
		concurrency = 10
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	consumeCtx, cancelConsume := context.WithCancel(context.Background())
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	return &MemoryQueue{
		policy:        policy,
		concurrency:   concurrency,
		delayed:       make(map[string]time.Time),
		jobs:          make(map[string]*Job),
		live:          make(map[string]bool),
		consumeCtx:    consumeCtx,
		cancelConsume: cancelConsume,
		jobCtx:        jobCtx,
		cancelJobs:    cancelJobs,
	}
}

// Enqueue adds a job unless one with the same order identifier is live
func (m *MemoryQueue) Enqueue(ctx context.Context, job *Job) (bool, error) {
	if job.OrderID == "" {
		return false, fmt.Errorf("job is missing an order identifier")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live[job.OrderID] {
		return false, nil
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	clone := *job
	m.jobs[job.OrderID] = &clone
	m.live[job.OrderID] = true
	m.wait = append(m.wait, job.OrderID)

	return true, nil
}

// Start launches the consumer pool. Calling Start more than once is a
// no-op.
func (m *MemoryQueue) Start(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("queue handler is required")
	}

	m.startOnce.Do(func() {
		m.handler = handler
		for i := 0; i < m.concurrency; i++ {
			m.wg.Add(1)
			go m.consume()
		}
	})
	return nil
}

func (m *MemoryQueue) consume() {
	defer m.wg.Done()

	for {
		select {
		case <-m.consumeCtx.Done():
			return
		default:
		}

		job := m.next()
		if job == nil {
			m.sleep(memoryPollEvery)
			continue
		}

		err := m.handler(m.jobCtx, job)
		m.settle(job, err)
	}
}

// next promotes due delayed jobs and pops the oldest waiting one
func (m *MemoryQueue) next() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for orderID, readyAt := range m.delayed {
		if !now.Before(readyAt) {
			delete(m.delayed, orderID)
			m.wait = append(m.wait, orderID)
		}
	}

	if m.paused || len(m.wait) == 0 {
		return nil
	}

	orderID := m.wait[0]
	m.wait = m.wait[1:]

	job, ok := m.jobs[orderID]
	if !ok {
		delete(m.live, orderID)
		return nil
	}

	m.active++
	job.Attempts++
	return job
}

func (m *MemoryQueue) settle(job *Job, handlerErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active--

	if handlerErr == nil {
		delete(m.jobs, job.OrderID)
		delete(m.live, job.OrderID)
		m.completed++
		return
	}

	permanent := m.policy.Permanent != nil && m.policy.Permanent(handlerErr)
	if permanent || job.Attempts >= m.policy.MaxAttempts {
		delete(m.jobs, job.OrderID)
		delete(m.live, job.OrderID)
		m.failed++
		return
	}

	delay := time.Second
	if m.policy.Backoff != nil {
		delay = m.policy.Backoff(job.Attempts)
	}
	m.delayed[job.OrderID] = time.Now().Add(delay)
}

func (m *MemoryQueue) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.consumeCtx.Done():
	case <-t.C:
	}
}

// Pause stops job delivery without dropping anything
func (m *MemoryQueue) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	return nil
}

// Resume restarts delivery after a pause
func (m *MemoryQueue) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	return nil
}

// Drain removes all waiting and delayed jobs
func (m *MemoryQueue) Drain(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	drained := int64(len(m.wait)) + int64(len(m.delayed))

	for _, orderID := range m.wait {
		delete(m.jobs, orderID)
		delete(m.live, orderID)
	}
	for orderID := range m.delayed {
		delete(m.jobs, orderID)
		delete(m.live, orderID)
	}

	m.wait = nil
	m.delayed = make(map[string]time.Time)

	return drained, nil
}

// Stats reports queue depths and the paused flag
func (m *MemoryQueue) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return &Stats{
		Waiting:   int64(len(m.wait)),
		Active:    m.active,
		Delayed:   int64(len(m.delayed)),
		Completed: m.completed,
		Failed:    m.failed,
		Paused:    m.paused,
	}, nil
}

// Close stops consumers, waiting for in-flight jobs until ctx expires
func (m *MemoryQueue) Close(ctx context.Context) error {
	m.cancelConsume()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.cancelJobs()
		<-done
	}

	m.cancelJobs()
	return nil
}
