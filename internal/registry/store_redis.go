package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flashgate/internal/core"
	"flashgate/pkg/retry"
)

// Correlations outlive any reasonable command round-trip but not the
// process fleet's storage: stale entries expire after a day.
const redisEntryTTL = 24 * time.Hour

// RedisStore keeps correlations in Redis, shared across gateway restarts.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects and verifies the server is reachable. The initial
// ping is retried with the startup policy.
func NewRedisStore(ctx context.Context, addr string, logger core.ILogger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	err := retry.Do(ctx, retry.StartupPolicy, retry.Always, func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis ping failed, retrying", "addr", addr, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client, ttl: redisEntryTTL}, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
