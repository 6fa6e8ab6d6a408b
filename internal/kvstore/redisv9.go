package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisV9Store implements Store over redis/go-redis/v9 — the
// deduplicator's fast-path KV probes (spec.md §4.2) go through this
// client.
type RedisV9Store struct {
	client *redis.Client
}

// NewRedisV9Store wraps an existing *redis.Client.
func NewRedisV9Store(client *redis.Client) *RedisV9Store {
	return &RedisV9Store{client: client}
}

// NewRedisV9 dials addr and wraps the resulting client.
func NewRedisV9(addr string) *RedisV9Store {
	return &RedisV9Store{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *RedisV9Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: GET %s: %v", ErrFault, key, err)
	}
	return v, true, nil
}

func (s *RedisV9Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: SET %s: %v", ErrFault, key, err)
	}
	return nil
}

func (s *RedisV9Store) ZAdd(ctx context.Context, key string, scoreMS int64, member string) error {
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: float64(scoreMS), Member: member}).Err(); err != nil {
		return fmt.Errorf("%w: ZADD %s: %v", ErrFault, key, err)
	}
	return nil
}

func (s *RedisV9Store) ZRangeAll(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: ZRANGE %s: %v", ErrFault, key, err)
	}
	return members, nil
}

func (s *RedisV9Store) ZRangeByScoreCount(ctx context.Context, key string, min, max int64) (int, error) {
	count, err := s.client.ZCount(ctx, key, strconv.FormatInt(min, 10), strconv.FormatInt(max, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ZCOUNT %s: %v", ErrFault, key, err)
	}
	return int(count), nil
}

func (s *RedisV9Store) ZRemByScore(ctx context.Context, key string, min, max int64) error {
	if err := s.client.ZRemRangeByScore(ctx, key, strconv.FormatInt(min, 10), strconv.FormatInt(max, 10)).Err(); err != nil {
		return fmt.Errorf("%w: ZREMRANGEBYSCORE %s: %v", ErrFault, key, err)
	}
	return nil
}

func (s *RedisV9Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: EXPIRE %s: %v", ErrFault, key, err)
	}
	return nil
}

var _ Store = (*RedisV9Store)(nil)
