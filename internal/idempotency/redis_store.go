package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"securebus/internal/constants"
	"securebus/pkg/metrics"
)

type RedisStore struct {
	client *redis.Client
	window time.Duration
}

func NewRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	return &RedisStore{client: client, window: window}
}

func (s *RedisStore) Seen(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	n, err := s.client.Exists(ctx, key(id)).Result()
	observe("exists", start, err)
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

// Mark keeps the first mark time; the window is not extended by redelivery.
func (s *RedisStore) Mark(ctx context.Context, id string) error {
	start := time.Now()
	_, err := s.client.SetNX(ctx, key(id), time.Now().UTC().Format(time.RFC3339Nano), s.window).Result()
	observe("setnx", start, err)
	if err != nil {
		return fmt.Errorf("redis SetNX failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Size(ctx context.Context) (int, error) {
	iter := s.client.Scan(ctx, 0, constants.CacheKeyPrefixIdempotency+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

func key(id string) string {
	return constants.CacheKeyPrefixIdempotency + id
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery("redis", operation, status)
	metrics.ObserveDatabaseQueryDuration("redis", operation, time.Since(start))
}
