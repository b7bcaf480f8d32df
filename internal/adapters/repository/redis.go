package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/vigil/internal/domain/model"
)

// Redis-backed Store implementation.
//
// Key layout (one sorted set + one hash per group):
//   - vigil:totals:{group}  — sorted set, member = user, score = total seconds.
//     ZINCRBY gives the atomic additive upsert; ZREVRANGE gives the
//     (group, seconds desc) secondary index.
//   - vigil:updated:{group} — hash, member = user, value = unix millis of the
//     last merge.
const (
	totalsKeyPrefix  = "vigil:totals:"
	updatedKeyPrefix = "vigil:updated:"
)

// RedisStore implements Store on a Redis server, keeping totals durable
// across process restarts.
type RedisStore struct {
	rdb *redis.Client
}

// RedisOption applies a configuration option to the RedisStore.
type RedisOption func(*redis.Options)

// WithRedisDB selects a logical database.
func WithRedisDB(db int) RedisOption {
	return func(o *redis.Options) {
		if db >= 0 {
			o.DB = db
		}
	}
}

// WithRedisPassword sets the AUTH password.
func WithRedisPassword(password string) RedisOption {
	return func(o *redis.Options) {
		o.Password = password
	}
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, opts ...RedisOption) (*RedisStore, error) {
	options := &redis.Options{Addr: addr}
	for _, opt := range opts {
		opt(options)
	}
	rdb := redis.NewClient(options)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, addr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func totalsKey(group string) string  { return totalsKeyPrefix + group }
func updatedKey(group string) string { return updatedKeyPrefix + group }

// Merge implements Store.Merge with a single transactional pipeline.
func (s *RedisStore) Merge(ctx context.Context, group, user string, delta int64) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.ZIncrBy(ctx, totalsKey(group), float64(delta), user)
	pipe.HSet(ctx, updatedKey(group), user, time.Now().UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: merge %s/%s: %v", ErrUnavailable, group, user, err)
	}
	return int64(incr.Val()), nil
}

// Total implements Store.Total.
func (s *RedisStore) Total(ctx context.Context, group, user string) (model.Total, error) {
	seconds, err := s.rdb.ZScore(ctx, totalsKey(group), user).Result()
	if err == redis.Nil {
		return model.Total{}, ErrNotFound
	}
	if err != nil {
		return model.Total{}, fmt.Errorf("%w: total %s/%s: %v", ErrUnavailable, group, user, err)
	}
	return model.Total{
		GroupID:     group,
		UserID:      user,
		Seconds:     int64(seconds),
		LastUpdated: s.lastUpdated(ctx, group, user),
	}, nil
}

// TopN implements Store.TopN via ZREVRANGE.
func (s *RedisStore) TopN(ctx context.Context, group string, n int) ([]model.Total, error) {
	if n < 1 {
		return nil, ErrInvalidN
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, totalsKey(group), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: topn %s: %v", ErrUnavailable, group, err)
	}
	out := make([]model.Total, 0, len(zs))
	for _, z := range zs {
		user, _ := z.Member.(string)
		out = append(out, model.Total{
			GroupID:     group,
			UserID:      user,
			Seconds:     int64(z.Score),
			LastUpdated: s.lastUpdated(ctx, group, user),
		})
	}
	return out, nil
}

// Reset implements Store.Reset.
func (s *RedisStore) Reset(ctx context.Context, group, user string) (bool, error) {
	pipe := s.rdb.TxPipeline()
	removed := pipe.ZRem(ctx, totalsKey(group), user)
	pipe.HDel(ctx, updatedKey(group), user)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: reset %s/%s: %v", ErrUnavailable, group, user, err)
	}
	return removed.Val() > 0, nil
}

// Count implements Store.Count.
func (s *RedisStore) Count(ctx context.Context, group string) int {
	n, err := s.rdb.ZCard(ctx, totalsKey(group)).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close releases the client's connection pool.
func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// lastUpdated is best-effort metadata; a missing or unparsable entry yields
// the zero time rather than failing the read.
func (s *RedisStore) lastUpdated(ctx context.Context, group, user string) time.Time {
	raw, err := s.rdb.HGet(ctx, updatedKey(group), user).Result()
	if err != nil {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
