package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/coinexec/orderflow/internal/persistence"
)

const keyPrefix = "orderflow:orders:"

// DefaultTTL bounds how long a cached order outlives its last write
const DefaultTTL = 15 * time.Minute

// Config holds Redis cache configuration
type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// OrderCache is a read-through cache for order lookups. It is advisory:
// the database stays the source of truth and cache failures never fail
// an order.
type OrderCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies connectivity
func New(cfg Config) (*OrderCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &OrderCache{client: rdb, ttl: ttl}, nil
}

// NewWithClient wraps an existing client, used by tests
func NewWithClient(client *redis.Client, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &OrderCache{client: client, ttl: ttl}
}

// Key returns the cache key for an order identifier
func Key(orderID string) string {
	return keyPrefix + orderID
}

// Set stores the order snapshot under the configured TTL
func (c *OrderCache) Set(ctx context.Context, order *persistence.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	if err := c.client.Set(ctx, Key(order.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Get retrieves a cached order. A miss is not an error.
func (c *OrderCache) Get(ctx context.Context, orderID string) (*persistence.Order, bool, error) {
	val, err := c.client.Get(ctx, Key(orderID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var order persistence.Order
	if err := json.Unmarshal([]byte(val), &order); err != nil {
		return nil, false, fmt.Errorf("unmarshal order: %w", err)
	}

	return &order, true, nil
}

// Delete removes a cached order. Deleting a missing key is a no-op.
func (c *OrderCache) Delete(ctx context.Context, orderID string) error {
	if err := c.client.Del(ctx, Key(orderID)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Exists reports whether an order is currently cached
func (c *OrderCache) Exists(ctx context.Context, orderID string) (bool, error) {
	n, err := c.client.Exists(ctx, Key(orderID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// RefreshTTL extends the lifetime of a cached order
func (c *OrderCache) RefreshTTL(ctx context.Context, orderID string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, Key(orderID), ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	return nil
}

// Ping tests connectivity, used by the health endpoint
func (c *OrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *OrderCache) Close() error {
	return c.client.Close()
}
