package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultBlockTimeout = 2 * time.Second
	defaultPromoteEvery = 250 * time.Millisecond
	pausedPollEvery     = 250 * time.Millisecond

	completedRetention = 24 * time.Hour
	failedRetention    = 7 * 24 * time.Hour
)

// RedisConfig holds the Redis queue configuration
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	Name        string `yaml:"name"`
	Concurrency int    `yaml:"concurrency"`
	// BlockTimeout bounds each blocking pop so consumers notice
	// shutdown and pause promptly
	BlockTimeout time.Duration `yaml:"block_timeout"`
	PromoteEvery time.Duration `yaml:"promote_every"`
}

// RedisQueue is the durable queue implementation. Jobs live as JSON
// under per-job keys; the wait and active lists and the delayed sorted
// set hold order identifiers only. A membership set dedups enqueues.
type RedisQueue struct {
	client *redis.Client
	name   string
	policy RetryPolicy

	concurrency  int
	blockTimeout time.Duration
	promoteEvery time.Duration

	handler Handler
	wg      sync.WaitGroup

	consumeCtx    context.Context
	cancelConsume context.CancelFunc
	jobCtx        context.Context
	cancelJobs    context.CancelFunc

	startOnce sync.Once
}

// NewRedisQueue connects to Redis and verifies connectivity. Stranded
// jobs from a previous crash are requeued when Start runs.
func NewRedisQueue(cfg RedisConfig, policy RetryPolicy) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisQueueWithClient(client, cfg, policy), nil
}

// NewRedisQueueWithClient wraps an existing client, used by tests and
// shared-connection setups
func NewRedisQueueWithClient(client *redis.Client, cfg RedisConfig, policy RetryPolicy) *RedisQueue {
	if cfg.Name == "" {
		cfg.Name = "orders"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	if cfg.PromoteEvery <= 0 {
		cfg.PromoteEvery = defaultPromoteEvery
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	consumeCtx, cancelConsume := context.WithCancel(context.Background())
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	return &RedisQueue{
		client:        client,
		name:          cfg.Name,
		policy:        policy,
		concurrency:   cfg.Concurrency,
		blockTimeout:  cfg.BlockTimeout,
		promoteEvery:  cfg.PromoteEvery,
		consumeCtx:    consumeCtx,
		cancelConsume: cancelConsume,
		jobCtx:        jobCtx,
		cancelJobs:    cancelJobs,
	}
}

func (q *RedisQueue) key(suffix string) string {
	return "orderflow:queue:" + q.name + ":" + suffix
}

func (q *RedisQueue) jobKey(orderID string) string {
	return q.key("job:" + orderID)
}

// Enqueue adds a job unless one with the same order identifier is live
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) (bool, error) {
	if job.OrderID == "" {
		return false, fmt.Errorf("job is missing an order identifier")
	}

	added, err := q.client.SAdd(ctx, q.key("ids"), job.OrderID).Result()
	if err != nil {
		return false, fmt.Errorf("queue enqueue: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		q.client.SRem(ctx, q.key("ids"), job.OrderID)
		return false, fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.jobKey(job.OrderID), payload, 0)
	pipe.LPush(ctx, q.key("wait"), job.OrderID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.client.SRem(ctx, q.key("ids"), job.OrderID)
		return false, fmt.Errorf("queue enqueue: %w", err)
	}

	return true, nil
}

// Start requeues stranded active jobs, then launches the consumer pool
// and the delayed-job promoter. Calling Start more than once is a no-op.
func (q *RedisQueue) Start(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("queue handler is required")
	}

	q.startOnce.Do(func() {
		q.handler = handler

		if err := q.requeueActive(); err != nil {
			log.Warn().Err(err).Str("queue", q.name).Msg("failed to requeue stranded jobs")
		}

		for i := 0; i < q.concurrency; i++ {
			q.wg.Add(1)
			go q.consume()
		}

		q.wg.Add(1)
		go q.promote()

		log.Info().Str("queue", q.name).Int("concurrency", q.concurrency).Msg("queue consumers started")
	})
	return nil
}

// requeueActive returns jobs stranded mid-delivery by a crash to the
// wait list. Runs before consumers start, so LMove races are not a
// concern.
func (q *RedisQueue) requeueActive() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.key("active"), q.key("wait"), "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return err
		}
		moved++
	}

	if moved > 0 {
		log.Info().Str("queue", q.name).Int("jobs", moved).Msg("requeued stranded active jobs")
	}
	return nil
}

func (q *RedisQueue) consume() {
	defer q.wg.Done()

	for {
		select {
		case <-q.consumeCtx.Done():
			return
		default:
		}

		paused, err := q.isPaused(q.consumeCtx)
		if err != nil {
			q.sleep(pausedPollEvery)
			continue
		}
		if paused {
			q.sleep(pausedPollEvery)
			continue
		}

		orderID, err := q.client.BLMove(q.consumeCtx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", q.blockTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if q.consumeCtx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("queue", q.name).Msg("queue pop failed")
			q.sleep(500 * time.Millisecond)
			continue
		}

		q.deliver(orderID)
	}
}

// sleep pauses a consume loop without delaying shutdown
func (q *RedisQueue) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-q.consumeCtx.Done():
	case <-t.C:
	}
}

// deliver runs the handler for one popped order identifier and settles
// the job afterwards. Settlement uses a background context so a
// completed job is recorded even during shutdown.
func (q *RedisQueue) deliver(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload, err := q.client.Get(ctx, q.jobKey(orderID)).Result()
	if err == redis.Nil {
		// Orphaned identifier, drop it
		q.client.LRem(ctx, q.key("active"), 1, orderID)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("orderId", orderID).Msg("failed to load job payload")
		q.client.LRem(ctx, q.key("active"), 1, orderID)
		q.client.ZAdd(ctx, q.key("delayed"), redis.Z{
			Score:  float64(time.Now().Add(time.Second).UnixMilli()),
			Member: orderID,
		})
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		log.Error().Err(err).Str("orderId", orderID).Msg("dropping undecodable job")
		q.discard(ctx, orderID)
		return
	}

	job.Attempts++
	if updated, err := json.Marshal(&job); err == nil {
		q.client.Set(ctx, q.jobKey(orderID), updated, 0)
	}

	handlerErr := q.handler(q.jobCtx, &job)
	q.settle(ctx, &job, handlerErr)
}

// settle completes, redelivers or buries a delivered job
func (q *RedisQueue) settle(ctx context.Context, job *Job, handlerErr error) {
	now := time.Now()

	if handlerErr == nil {
		pipe := q.client.Pipeline()
		pipe.LRem(ctx, q.key("active"), 1, job.OrderID)
		pipe.SRem(ctx, q.key("ids"), job.OrderID)
		pipe.Del(ctx, q.jobKey(job.OrderID))
		pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: float64(now.UnixMilli()), Member: job.OrderID})
		pipe.ZRemRangeByScore(ctx, q.key("completed"), "-inf", strconv.FormatInt(now.Add(-completedRetention).UnixMilli(), 10))
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn().Err(err).Str("orderId", job.OrderID).Msg("failed to settle completed job")
		}
		return
	}

	permanent := q.policy.Permanent != nil && q.policy.Permanent(handlerErr)
	if permanent || job.Attempts >= q.policy.MaxAttempts {
		log.Warn().Err(handlerErr).
			Str("orderId", job.OrderID).
			Int("attempts", job.Attempts).
			Bool("permanent", permanent).
			Msg("job moved to failed set")

		pipe := q.client.Pipeline()
		pipe.LRem(ctx, q.key("active"), 1, job.OrderID)
		pipe.SRem(ctx, q.key("ids"), job.OrderID)
		pipe.Expire(ctx, q.jobKey(job.OrderID), failedRetention)
		pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(now.UnixMilli()), Member: job.OrderID})
		pipe.ZRemRangeByScore(ctx, q.key("failed"), "-inf", strconv.FormatInt(now.Add(-failedRetention).UnixMilli(), 10))
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn().Err(err).Str("orderId", job.OrderID).Msg("failed to settle failed job")
		}
		return
	}

	delay := time.Second
	if q.policy.Backoff != nil {
		delay = q.policy.Backoff(job.Attempts)
	}

	log.Info().Err(handlerErr).
		Str("orderId", job.OrderID).
		Int("attempts", job.Attempts).
		Dur("delay", delay).
		Msg("job scheduled for redelivery")

	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.key("active"), 1, job.OrderID)
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: job.OrderID})
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("orderId", job.OrderID).Msg("failed to schedule redelivery")
	}
}

func (q *RedisQueue) discard(ctx context.Context, orderID string) {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.key("active"), 1, orderID)
	pipe.SRem(ctx, q.key("ids"), orderID)
	pipe.Del(ctx, q.jobKey(orderID))
	pipe.Exec(ctx)
}

// promote moves due delayed jobs back onto the wait list. ZRem gates
// the push so concurrent promoters cannot double-deliver.
func (q *RedisQueue) promote() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.promoteEvery)
	defer ticker.Stop()

	for {
		select {
		case <-q.consumeCtx.Done():
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		due, err := q.client.ZRangeByScore(q.consumeCtx, q.key("delayed"), &redis.ZRangeBy{
			Min: "-inf",
			Max: now,
		}).Result()
		if err != nil {
			if q.consumeCtx.Err() != nil {
				return
			}
			continue
		}

		for _, orderID := range due {
			removed, err := q.client.ZRem(q.consumeCtx, q.key("delayed"), orderID).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := q.client.LPush(q.consumeCtx, q.key("wait"), orderID).Err(); err != nil {
				log.Warn().Err(err).Str("orderId", orderID).Msg("failed to promote delayed job")
			}
		}
	}
}

// Pause sets the shared paused flag; consumers in every process stop
// picking up new jobs
func (q *RedisQueue) Pause(ctx context.Context) error {
	if err := q.client.Set(ctx, q.key("paused"), "1", 0).Err(); err != nil {
		return fmt.Errorf("queue pause: %w", err)
	}
	log.Info().Str("queue", q.name).Msg("queue paused")
	return nil
}

// Resume clears the paused flag
func (q *RedisQueue) Resume(ctx context.Context) error {
	if err := q.client.Del(ctx, q.key("paused")).Err(); err != nil {
		return fmt.Errorf("queue resume: %w", err)
	}
	log.Info().Str("queue", q.name).Msg("queue resumed")
	return nil
}

func (q *RedisQueue) isPaused(ctx context.Context) (bool, error) {
	n, err := q.client.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Drain removes every not-yet-started job
func (q *RedisQueue) Drain(ctx context.Context) (int64, error) {
	ids, err := q.client.LRange(ctx, q.key("wait"), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queue drain: %w", err)
	}

	delayed, err := q.client.ZRange(ctx, q.key("delayed"), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queue drain: %w", err)
	}
	ids = append(ids, delayed...)

	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.Pipeline()
	pipe.Del(ctx, q.key("wait"), q.key("delayed"))
	for _, orderID := range ids {
		pipe.SRem(ctx, q.key("ids"), orderID)
		pipe.Del(ctx, q.jobKey(orderID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue drain: %w", err)
	}

	log.Info().Str("queue", q.name).Int("jobs", len(ids)).Msg("queue drained")
	return int64(len(ids)), nil
}

// Stats reports queue depths and the paused flag
func (q *RedisQueue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	paused := pipe.Exists(ctx, q.key("paused"))

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	return &Stats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Paused:    paused.Val() > 0,
	}, nil
}

// Close stops consumers, waits for in-flight jobs until ctx expires,
// then force-cancels whatever is still running
func (q *RedisQueue) Close(ctx context.Context) error {
	q.cancelConsume()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Str("queue", q.name).Msg("forcing in-flight jobs to stop")
		q.cancelJobs()
		<-done
	}

	q.cancelJobs()
	return q.client.Close()
}
