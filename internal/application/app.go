// Package application wires the order execution engine together:
// configuration, storage, cache, queue, venues, the pipeline worker
// pool and the HTTP surface.
package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coinexec/orderflow/internal/cache"
	"github.com/coinexec/orderflow/internal/config"
	"github.com/coinexec/orderflow/internal/errs"
	"github.com/coinexec/orderflow/internal/executor"
	"github.com/coinexec/orderflow/internal/infrastructure/db"
	httpserver "github.com/coinexec/orderflow/internal/interfaces/http"
	"github.com/coinexec/orderflow/internal/persistence"
	"github.com/coinexec/orderflow/internal/pipeline"
	"github.com/coinexec/orderflow/internal/queue"
	"github.com/coinexec/orderflow/internal/router"
	"github.com/coinexec/orderflow/internal/stream"
	"github.com/coinexec/orderflow/internal/venue"
	"github.com/coinexec/orderflow/internal/venue/fake"
	venuehttp "github.com/coinexec/orderflow/internal/venue/httpapi"
)

// shutdownTimeout bounds the drain of in-flight work on shutdown
const shutdownTimeout = 30 * time.Second

// observeEvery is the cadence of the gauge refresh loop
const observeEvery = 5 * time.Second

// App owns every long-lived component of the engine.
type App struct {
	cfg     *Config
	version string

	dbManager *db.Manager
	cache     *cache.OrderCache
	queue     queue.Queue
	hub       *stream.Hub
	bus       *errs.Bus
	adapters  []venue.Adapter
	worker    *pipeline.Worker
	metrics   *httpserver.MetricsRegistry
	health    *httpserver.HealthHandler
	server    *httpserver.Server
}

// New builds the full component graph. Nothing is started yet; Run
// owns the lifecycle.
func New(cfg *Config, version string) (*App, error) {
	venuesCfg, err := config.LoadVenuesConfig(cfg.Venues.File)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		version: version,
		hub:     stream.NewHub(),
		bus:     errs.NewBus(64),
		metrics: httpserver.NewMetricsRegistry(),
	}

	a.adapters = a.buildAdapters(venuesCfg)

	a.dbManager, err = db.NewManager(db.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime(),
		QueryTimeout:    cfg.Database.QueryTimeout(),
	})
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		a.cache, err = cache.New(cache.Config{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			TTL:      cfg.Cache.TTL(),
		})
		if err != nil {
			a.dbManager.Close()
			return nil, fmt.Errorf("order cache: %w", err)
		}
	}

	a.queue, err = a.buildQueue()
	if err != nil {
		a.closeResources()
		return nil, err
	}

	rt := router.New(a.adapters, router.Config{QuoteTimeout: cfg.Routing.QuoteTimeout()})
	ex := executor.New(a.adapters, executor.Config{
		DefaultSlippage: cfg.Execution.DefaultSlippage,
		MaxSlippage:     cfg.Execution.MaxSlippage,
	})

	// The worker and REST handler share the cache; both tolerate its
	// absence, so pass a nil interface rather than a nil pointer.
	var workerCache pipeline.OrderCache
	var handlerCache httpserver.OrderCache
	if a.cache != nil {
		workerCache = a.cache
		handlerCache = a.cache
	}

	a.worker = pipeline.NewWorker(a.dbManager.Store(), workerCache, rt, ex, a.hub, a.bus, pipeline.Config{
		Retry: pipeline.RetryConfig{
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			BaseDelay:   cfg.Pipeline.BackoffBase(),
			Multiplier:  cfg.Pipeline.BackoffMultiplier,
			MaxDelay:    cfg.Pipeline.BackoffMax(),
		},
		MaxDeliveries: cfg.Pipeline.MaxDeliveries,
	})
	a.worker.SetHooks(pipeline.Hooks{
		OnTerminal: func(order *persistence.Order) {
			a.metrics.RecordTerminal(string(order.Status), time.Since(order.CreatedAt))
		},
	})

	orders := httpserver.NewOrdersHandler(a.dbManager.Store(), handlerCache, a.queue, a.hub, executor.Config{
		DefaultSlippage: cfg.Execution.DefaultSlippage,
		MaxSlippage:     cfg.Execution.MaxSlippage,
	}, a.metrics)

	a.health = httpserver.NewHealthHandler(version)
	a.health.AddCheck("database", a.dbManager.Health().Ping)
	if a.cache != nil {
		a.health.AddCheck("cache", a.cache.Ping)
	}
	a.health.AddCheck("queue", func(ctx context.Context) error {
		_, err := a.queue.Stats(ctx)
		return err
	})

	a.server, err = httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}, orders, a.health, a.metrics)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	return a, nil
}

// buildAdapters constructs one adapter per configured venue, in file
// order. Every adapter reports request metrics and runs behind its own
// circuit breaker.
func (a *App) buildAdapters(venuesCfg *config.VenuesConfig) []venue.Adapter {
	settings := venue.BreakerSettings{
		FailureThreshold: uint32(a.cfg.Breaker.FailureThreshold),
		ResetTimeout:     a.cfg.Breaker.ResetTimeout(),
		MonitoringPeriod: a.cfg.Breaker.MonitoringPeriod(),
	}

	adapters := make([]venue.Adapter, 0, len(venuesCfg.Venues))
	for _, vc := range venuesCfg.Venues {
		var base venue.Adapter
		switch vc.Implementation {
		case config.ImplementationReal:
			base = venuehttp.NewClient(venuehttp.Config{
				Name:           vc.Name,
				BaseURL:        vc.URL,
				SigningKey:     vc.SigningKey,
				RequestTimeout: vc.GetRequestTimeout(),
				RateLimitRPS:   vc.RateLimitRPS,
			})
		default:
			if vc.Seed != 0 {
				base = fake.NewAdapter(vc.Name, vc.Seed)
			} else {
				base = fake.NewDeterministicAdapter(vc.Name)
			}
		}

		instrumented := &instrumentedAdapter{inner: base, metrics: a.metrics}
		wrapped := venue.WithBreaker(instrumented, settings, func(venueName, _, to string) {
			a.metrics.SetBreakerState(venueName, to)
		})

		a.metrics.SetBreakerState(vc.Name, "closed")
		adapters = append(adapters, wrapped)

		log.Info().
			Str("venue", vc.Name).
			Str("implementation", vc.Implementation).
			Msg("venue adapter ready")
	}
	return adapters
}

// redeliveryPolicy translates the queue section into the queue's retry
// contract: doubling backoff between deliveries, no redelivery for
// errors retrying cannot fix.
func redeliveryPolicy(section QueueSection) queue.RetryPolicy {
	backoff := pipeline.RetryConfig{
		BaseDelay:  section.BackoffBase(),
		Multiplier: 2,
		MaxDelay:   section.BackoffMax(),
	}
	return queue.RetryPolicy{
		MaxAttempts: section.MaxAttempts,
		Backoff:     backoff.BackoffDelay,
		Permanent: func(err error) bool {
			return !errs.Retryable(err)
		},
	}
}

// buildQueue selects the queue backend from the config.
func (a *App) buildQueue() (queue.Queue, error) {
	policy := redeliveryPolicy(a.cfg.Queue)

	switch a.cfg.Queue.Driver {
	case QueueDriverMemory:
		log.Warn().Msg("using in-memory queue, jobs will not survive a restart")
		return queue.NewMemoryQueue(a.cfg.Queue.Concurrency, policy), nil
	default:
		q, err := queue.NewRedisQueue(queue.RedisConfig{
			Addr:        a.cfg.Queue.Redis.Addr,
			Password:    a.cfg.Queue.Redis.Password,
			DB:          a.cfg.Queue.Redis.DB,
			Name:        a.cfg.Queue.Name,
			Concurrency: a.cfg.Queue.Concurrency,
		}, policy)
		if err != nil {
			return nil, fmt.Errorf("order queue: %w", err)
		}
		return q, nil
	}
}

// Queue exposes the work queue for the ops CLI.
func (a *App) Queue() queue.Queue {
	return a.queue
}

// Run starts every component and blocks until ctx is cancelled or the
// HTTP server fails, then drains in-flight work and releases resources.
func (a *App) Run(ctx context.Context) error {
	events := a.bus.Subscribe()
	go a.consumeCriticalErrors(events)

	if err := a.queue.Start(a.worker.Handle); err != nil {
		a.closeResources()
		return fmt.Errorf("queue start: %w", err)
	}

	observeCtx, stopObserve := context.WithCancel(context.Background())
	defer stopObserve()
	go a.observe(observeCtx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	log.Info().
		Str("address", a.server.Address()).
		Str("version", a.version).
		Str("env", a.cfg.Server.Env).
		Int("venues", len(a.adapters)).
		Str("queue", a.cfg.Queue.Driver).
		Msg("order execution engine up")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.shutdown()
			return fmt.Errorf("http server: %w", err)
		}
	}

	return a.shutdown()
}

// shutdown stops intake, drains the pipeline, then releases resources.
// Stream subscribers stay attached until the drain finishes so terminal
// frames still reach them.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error

	if err := a.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
		firstErr = err
	}

	if err := a.queue.Close(ctx); err != nil {
		log.Error().Err(err).Msg("queue close failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	a.hub.CloseAll()
	a.bus.Close()
	a.closeResources()

	log.Info().Msg("order execution engine stopped")
	return firstErr
}

// closeResources releases connections; safe on a partially built App.
func (a *App) closeResources() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Warn().Err(err).Msg("cache close failed")
		}
	}
	if a.dbManager != nil {
		if err := a.dbManager.Close(); err != nil {
			log.Warn().Err(err).Msg("database close failed")
		}
	}
}

// observe refreshes the queue, stream and breaker gauges.
func (a *App) observe(ctx context.Context) {
	ticker := time.NewTicker(observeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statsCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if stats, err := a.queue.Stats(statsCtx); err == nil {
				a.metrics.SetQueueStats(stats)
			}
			cancel()

			a.metrics.SetStreamSubscribers(a.hub.Total())

			for _, ad := range a.adapters {
				if state := venue.BreakerState(ad); state != "" {
					a.metrics.SetBreakerState(ad.Name(), state)
				}
			}
		}
	}
}

// consumeCriticalErrors surfaces SYSTEM errors from the pipeline to
// operators: one log line and one counter tick per event.
func (a *App) consumeCriticalErrors(events <-chan *errs.Error) {
	for e := range events {
		a.metrics.RecordCriticalError()
		log.Error().
			Str("kind", string(e.Kind)).
			Fields(e.Context).
			Msg("critical pipeline error: " + e.Message)
	}
}

// instrumentedAdapter reports per-call metrics for one venue. It sits
// inside the circuit breaker so fast-failed calls are not counted as
// venue traffic.
type instrumentedAdapter struct {
	inner   venue.Adapter
	metrics *httpserver.MetricsRegistry
}

func (ia *instrumentedAdapter) Name() string {
	return ia.inner.Name()
}

func (ia *instrumentedAdapter) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn int64) (*venue.Quote, error) {
	start := time.Now()
	quote, err := ia.inner.Quote(ctx, tokenIn, tokenOut, amountIn)
	ia.metrics.RecordVenueRequest(ia.inner.Name(), "quote", resultLabel(err), time.Since(start))
	return quote, err
}

func (ia *instrumentedAdapter) Swap(ctx context.Context, params *venue.SwapParams) (*venue.SwapResult, error) {
	start := time.Now()
	result, err := ia.inner.Swap(ctx, params)
	ia.metrics.RecordVenueRequest(ia.inner.Name(), "swap", resultLabel(err), time.Since(start))
	return result, err
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
