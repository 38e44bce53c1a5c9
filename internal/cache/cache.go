package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. Implementations must be safe for
// concurrent use. Everything here is a lossy accelerator: the Postgres
// store stays authoritative and a cache miss just means a re-read.
type Cache interface {
	Ping(ctx context.Context) error
	Close() error

	// SetBulkProgress caches the latest aggregate snapshot for polling.
	SetBulkProgress(ctx context.Context, progress models.BulkProgress, ttl time.Duration) error
	GetBulkProgress(ctx context.Context, operationID uuid.UUID) (models.BulkProgress, bool, error)

	// SetActiveOperation records the operation a reloading client should
	// re-attach to; cleared when the operation ends.
	SetActiveOperation(ctx context.Context, operationID uuid.UUID, ttl time.Duration) error
	GetActiveOperation(ctx context.Context) (uuid.UUID, bool, error)
	ClearActiveOperation(ctx context.Context) error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// NewRedisCacheFromClient wraps an existing client, sharing the connection
// pool with the broadcaster.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SetBulkProgress(ctx context.Context, progress models.BulkProgress, ttl time.Duration) error {
	b, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, BulkProgressKey(progress.OperationID), b, ttl).Err()
}

func (c *RedisCache) GetBulkProgress(ctx context.Context, operationID uuid.UUID) (models.BulkProgress, bool, error) {
	val, err := c.client.Get(ctx, BulkProgressKey(operationID)).Bytes()
	if err == redis.Nil {
		return models.BulkProgress{}, false, nil
	}
	if err != nil {
		return models.BulkProgress{}, false, err
	}
	var progress models.BulkProgress
	if err := json.Unmarshal(val, &progress); err != nil {
		return models.BulkProgress{}, false, err
	}
	return progress, true, nil
}

func (c *RedisCache) SetActiveOperation(ctx context.Context, operationID uuid.UUID, ttl time.Duration) error {
	return c.client.Set(ctx, ActiveOperationKey(), operationID.String(), ttl).Err()
}

func (c *RedisCache) GetActiveOperation(ctx context.Context) (uuid.UUID, bool, error) {
	val, err := c.client.Get(ctx, ActiveOperationKey()).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func (c *RedisCache) ClearActiveOperation(ctx context.Context) error {
	return c.client.Del(ctx, ActiveOperationKey()).Err()
}
