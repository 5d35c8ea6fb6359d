package aggregate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps timelines in Redis sorted sets (millisecond timestamp
// as score, exactly representable as a float64) and
// distinct-member sets, so all window math runs server side and counters are
// shared across analyzer replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	seq    atomic.Uint64
}

// RedisConfig configuration for the Redis-backed store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "logshield:"
	}

	return &RedisStore{client: client, prefix: cfg.KeyPrefix}, nil
}

// Insert appends one occurrence at ts. The member carries a process-local
// sequence number so two events in the same nanosecond both count.
func (s *RedisStore) Insert(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	redisKey := s.prefix + key

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: fmt.Sprintf("%d-%d", ts.UnixNano(), s.seq.Add(1)),
	})
	pipe.Expire(ctx, redisKey, ttl)
	// Drop entries older than the retention horizon while we are here.
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", ts.Add(-ttl).UnixMilli()))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute pipeline: %w", err)
	}
	return nil
}

// CountRange counts occurrences with from < t <= to.
func (s *RedisStore) CountRange(ctx context.Context, key string, from, to time.Time) (int64, error) {
	count, err := s.client.ZCount(ctx, s.prefix+key,
		fmt.Sprintf("(%d", from.UnixMilli()),
		fmt.Sprintf("%d", to.UnixMilli())).Result()
	if err != nil {
		return 0, fmt.Errorf("zcount %s: %w", key, err)
	}
	return count, nil
}

// Last returns the most recent occurrence on the timeline.
func (s *RedisStore) Last(ctx context.Context, key string) (time.Time, bool, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, s.prefix+key, 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("zrevrange %s: %w", key, err)
	}
	if len(entries) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(entries[0].Score)), true, nil
}

// FirstSince returns the earliest occurrence at or after since.
func (s *RedisStore) FirstSince(ctx context.Context, key string, since time.Time) (time.Time, bool, error) {
	entries, err := s.client.ZRangeByScoreWithScores(ctx, s.prefix+key, &redis.ZRangeBy{
		Min:   fmt.Sprintf("%d", since.UnixMilli()),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	if len(entries) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(entries[0].Score)), true, nil
}

// AddMember adds member to the distinct set at key.
func (s *RedisStore) AddMember(ctx context.Context, key, member string, ttl time.Duration) error {
	redisKey := s.prefix + key

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, redisKey, member)
	pipe.Expire(ctx, redisKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

// Cardinality returns the distinct-member count of the set at key.
func (s *RedisStore) Cardinality(ctx context.Context, key string) (int64, error) {
	count, err := s.client.SCard(ctx, s.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %s: %w", key, err)
	}
	return count, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
