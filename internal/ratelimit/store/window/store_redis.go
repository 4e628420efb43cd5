package window

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"framewise/internal/ratelimit/models"
)

// DefaultRedisKeyPrefix namespaces admission windows in a shared Redis.
const DefaultRedisKeyPrefix = "framewise:rl:"

// fixedWindowScript applies one request atomically.
// KEYS[1] window key, ARGV[1] max, ARGV[2] window in ms.
// Returns {allowed, count, pttl, fresh}.
var fixedWindowScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = redis.call('GET', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if not count or ttl <= 0 then
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, 1, window, 1}
end
count = tonumber(count)
if count < max then
  count = redis.call('INCR', KEYS[1])
  return {1, count, ttl, 0}
end
return {0, count, ttl, 0}
`)

// RedisStore keeps windows in Redis so every replica shares one budget.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		s.now = now
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Allow(ctx context.Context, key string, max int, window time.Duration) (*models.AdmissionResult, error) {
	if key == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	vals, err := fixedWindowScript.Run(ctx, s.client, []string{s.prefix + key}, max, windowMs).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("run fixed window script: %w", err)
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("fixed window script returned %d values", len(vals))
	}

	now := s.now()
	allowed, count, ttlMs, fresh := vals[0] == 1, int(vals[1]), vals[2], vals[3] == 1
	resetAt := now.Add(time.Duration(ttlMs) * time.Millisecond)
	res := models.Counted(allowed, fresh, count, max, resetAt, now, window)
	return &res, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset rate limit window: %w", err)
	}
	return nil
}
