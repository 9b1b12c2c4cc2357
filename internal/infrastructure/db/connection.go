package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/coinexec/orderflow/internal/persistence"
	"github.com/coinexec/orderflow/internal/persistence/postgres"
)

// Config holds database connection configuration
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns reasonable defaults for database connections
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Manager owns the database connection pool and the order store bound to it
type Manager struct {
	db     *sqlx.DB
	config Config
	store  persistence.OrderStore
	health *healthChecker
}

// NewManager opens the connection pool, verifies connectivity and applies
// the schema. The order store is the system of record; there is no
// degraded mode without it.
func NewManager(config Config) (*Manager, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Manager{
		db:     db,
		config: config,
		store:  postgres.NewOrderStore(db, config.QueryTimeout),
		health: &healthChecker{db: db, timeout: config.QueryTimeout},
	}, nil
}

// Store returns the order store backed by this connection pool
func (m *Manager) Store() persistence.OrderStore {
	return m.store
}

// Health returns the health checker for the connection pool
func (m *Manager) Health() *healthChecker {
	return m.health
}

// DB returns the underlying database connection
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// HealthCheck reports database connectivity and pool pressure
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connectionPool"`
	LastCheck      time.Time      `json:"lastCheck"`
	ResponseTimeMS int64          `json:"responseTimeMs"`
}

type healthChecker struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Health returns current database health status
func (h *healthChecker) Health(ctx context.Context) HealthCheck {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errors []string
	healthy := true

	if err := h.db.PingContext(pingCtx); err != nil {
		errors = append(errors, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	connectionPool := map[string]int{
		"max_open":      stats.MaxOpenConnections,
		"open":          stats.OpenConnections,
		"in_use":        stats.InUse,
		"idle":          stats.Idle,
		"wait_count":    int(stats.WaitCount),
		"wait_duration": int(stats.WaitDuration.Milliseconds()),
	}

	return HealthCheck{
		Healthy:        healthy,
		Errors:         errors,
		ConnectionPool: connectionPool,
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// Ping tests basic connectivity to the database
func (h *healthChecker) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	return h.db.PingContext(pingCtx)
}

// Stats returns connection pool statistics
func (h *healthChecker) Stats(ctx context.Context) map[string]interface{} {
	stats := h.db.Stats()

	return map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}
