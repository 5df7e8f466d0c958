package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/tumor-report/internal/logging"
	"github.com/example/tumor-report/internal/repository"
)

// ErrCacheMiss is returned by Cache.Get for absent or expired keys.
var ErrCacheMiss = redis.Nil

// Cache holds report summaries for fast lookups.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// memorySweepEvery is how many writes pass between sweeps of expired entries.
const memorySweepEvery = 128

// MemoryCache is a process-local Cache used when no Redis is configured.
// Expired entries are dropped on read and by a sweep every memorySweepEvery
// writes.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	writes  int
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Set accepts strings and byte slices. A zero expiration never expires.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return errUnsupportedValue
	}

	entry := memoryEntry{value: s}
	if expiration > 0 {
		entry.expiresAt = c.now().Add(expiration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	c.writes++
	if c.writes%memorySweepEvery == 0 {
		c.evictExpiredLocked()
	}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", ErrCacheMiss
	}
	return entry.value, nil
}

func (c *MemoryCache) evictExpiredLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

var errUnsupportedValue = errors.New("memory cache stores strings and byte slices only")

func (o *Orchestrator) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if o.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := o.initialBackoff
	opLogger := logging.WithOperation(o.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < o.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= o.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		miss := errors.Is(err, ErrCacheMiss)
		if miss || !repository.IsTransientError(err) || attempt == o.retryAttempts-1 {
			if !miss {
				opLogger.Error("cache operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (o *Orchestrator) cacheGet(ctx context.Context, requestID, operation, key string) (string, error) {
	var result string
	err := o.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := o.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
