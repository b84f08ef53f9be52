package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"lunar-bazi/backend/internal/bazi"
)

const defaultPrefix = "bazi:conversion:"

// RedisCache stores results as JSON strings with a TTL.
type RedisCache struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps an existing client; ttl <= 0 defaults to 12h.
func NewRedisCache(client *goredis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl, prefix: defaultPrefix}
}

// Ping verifies the connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Get(ctx context.Context, key string) (bazi.Result, bool, error) {
	if r.client == nil {
		return bazi.Result{}, false, fmt.Errorf("redis client is nil")
	}
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return bazi.Result{}, false, nil
	}
	if err != nil {
		return bazi.Result{}, false, fmt.Errorf("get cached conversion: %w", err)
	}
	var result bazi.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return bazi.Result{}, false, fmt.Errorf("decode cached conversion: %w", err)
	}
	return result, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, result bazi.Result) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode conversion: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("set cached conversion: %w", err)
	}
	return nil
}

func (r *RedisCache) Kind() string { return "redis" }
