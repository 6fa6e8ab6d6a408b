package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
)

// RedisV8Store implements Store over go-redis/v8 — kept on the older
// client generation the same way internal/portfolio/manager.go in the
// donor stayed on v8 while the rest of the stack moved to v9; the
// fatigue accountant's sliding-window counters (spec.md §4.6) go
// through this client, never migrated alongside the deduplicator's.
type RedisV8Store struct {
	client *redisv8.Client
}

// NewRedisV8Store wraps an existing *redisv8.Client.
func NewRedisV8Store(client *redisv8.Client) *RedisV8Store {
	return &RedisV8Store{client: client}
}

// NewRedisV8 dials addr and wraps the resulting client.
func NewRedisV8(addr string) *RedisV8Store {
	return &RedisV8Store{client: redisv8.NewClient(&redisv8.Options{Addr: addr})}
}

func (s *RedisV8Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redisv8.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: GET %s: %v", ErrFault, key, err)
	}
	return v, true, nil
}

func (s *RedisV8Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: SET %s: %v", ErrFault, key, err)
	}
	return nil
}

func (s *RedisV8Store) ZAdd(ctx context.Context, key string, scoreMS int64, member string) error {
	if err := s.client.ZAdd(ctx, key, &redisv8.Z{Score: float64(scoreMS), Member: member}).Err(); err != nil {
		return fmt.Errorf("%w: ZADD %s: %v", ErrFault, key, err)
	}
	return nil
}

func (s *RedisV8Store) ZRangeAll(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: ZRANGE %s: %v", ErrFault, key, err)
	}
	return members, nil
}

func (s *RedisV8Store) ZRangeByScoreCount(ctx context.Context, key string, min, max int64) (int, error) {
	count, err := s.client.ZCount(ctx, key, strconv.FormatInt(min, 10), strconv.FormatInt(max, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ZCOUNT %s: %v", ErrFault, key, err)
	}
	return int(count), nil
}

func (s *RedisV8Store) ZRemByScore(ctx context.Context, key string, min, max int64) error {
	if err := s.client.ZRemRangeByScore(ctx, key, strconv.FormatInt(min, 10), strconv.FormatInt(max, 10)).Err(); err != nil {
		return fmt.Errorf("%w: ZREMRANGEBYSCORE %s: %v", ErrFault, key, err)
	}
	return nil
}

func (s *RedisV8Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: EXPIRE %s: %v", ErrFault, key, err)
	}
	return nil
}

var _ Store = (*RedisV8Store)(nil)
