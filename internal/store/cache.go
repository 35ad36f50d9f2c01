package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quorumdocs/docflow/model"
)

// StatusCache is a best-effort cache of per-document workflow status. The
// instance store remains the source of truth; every mutation invalidates the
// cached entry.
type StatusCache interface {
	Get(ctx context.Context, documentID string) (*model.WorkflowStatus, bool, error)
	Set(ctx context.Context, documentID string, status *model.WorkflowStatus) error
	Invalidate(ctx context.Context, documentID string) error
	HealthCheck(ctx context.Context) error
}

// NoopCache disables status caching.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*model.WorkflowStatus, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, string, *model.WorkflowStatus) error         { return nil }
func (NoopCache) Invalidate(context.Context, string) error                         { return nil }
func (NoopCache) HealthCheck(context.Context) error                                { return nil }

// RedisCache is a redis-backed StatusCache with a TTL. Cache failures are
// reported but callers treat them as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a redis status cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(documentID string) string {
	return "workflow:status:" + documentID
}

// Get retrieves a cached status for a document.
func (c *RedisCache) Get(ctx context.Context, documentID string) (*model.WorkflowStatus, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(documentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var status model.WorkflowStatus
	if err := json.Unmarshal(data, &status); err != nil {
		// A corrupt entry is a miss, not an error.
		_ = c.client.Del(ctx, cacheKey(documentID)).Err()
		return nil, false, nil
	}
	return &status, true, nil
}

// Set stores a status for a document with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, documentID string, status *model.WorkflowStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(documentID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached status for a document.
func (c *RedisCache) Invalidate(ctx context.Context, documentID string) error {
	if err := c.client.Del(ctx, cacheKey(documentID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// HealthCheck verifies redis is reachable.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
