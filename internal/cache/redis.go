package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stanstork/lms-import/internal/sheet"
)

type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cannot connect to Redis at %s: %w", addr, err)
	}

	return NewRedisCacheWithClient(rdb, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client; ttl <= 0 falls back to one hour.
func NewRedisCacheWithClient(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, jobID string) (sheet.Table, bool, error) {
	raw, err := r.client.Get(ctx, tableKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sheet.Table{}, false, nil
		}
		return sheet.Table{}, false, err
	}
	var table sheet.Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return sheet.Table{}, false, fmt.Errorf("decode cached table for job %s: %w", jobID, err)
	}
	return table, true, nil
}

func (r *RedisCache) Set(ctx context.Context, jobID string, table sheet.Table) error {
	payload, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode table for job %s: %w", jobID, err)
	}
	return r.client.Set(ctx, tableKey(jobID), payload, r.ttl).Err()
}

func (r *RedisCache) Invalidate(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, tableKey(jobID)).Err()
}

// helper to standardize keys
func tableKey(jobID string) string {
	return fmt.Sprintf("import:table:%s", jobID)
}
