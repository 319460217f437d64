package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/segment-api/internal/segmentation"
)

// Cache abstracts the Redis operations used by the use case to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

type cachedMask struct {
	Height int    `json:"height"`
	Width  int    `json:"width"`
	Pix    []byte `json:"pix"`
}

func maskCacheKey(modelID, sha1Hex string) string {
	return fmt.Sprintf("segmentation:mask:%s:%s", modelID, sha1Hex)
}

func encodeCachedMask(mask *segmentation.ClassMask) (string, error) {
	data, err := json.Marshal(cachedMask{Height: mask.Height, Width: mask.Width, Pix: mask.Pix})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCachedMask(value string, numClasses int) (*segmentation.ClassMask, error) {
	var payload cachedMask
	if err := json.Unmarshal([]byte(value), &payload); err != nil {
		return nil, err
	}
	if payload.Height <= 0 || payload.Width <= 0 || len(payload.Pix) != payload.Height*payload.Width {
		return nil, fmt.Errorf("%w: cached mask %dx%d with %d pixels", segmentation.ErrShape, payload.Width, payload.Height, len(payload.Pix))
	}
	for i, v := range payload.Pix {
		if int(v) >= numClasses {
			return nil, fmt.Errorf("%w: cached class %d at %d, palette has %d", segmentation.ErrPaletteRange, v, i, numClasses)
		}
	}
	return &segmentation.ClassMask{Height: payload.Height, Width: payload.Width, Pix: payload.Pix}, nil
}
