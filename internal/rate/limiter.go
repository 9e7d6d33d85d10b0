package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds refresh throttle tuning. MaxRefreshAttempts refreshes are
// allowed per subject in each RefreshCooldownDuration window.
type Config struct {
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
	// Prefix namespaces Redis counter keys.
	Prefix string
}

// Limiter enforces the per-subject refresh budget with Redis counters so
// every engine process sharing the Redis sees the same window.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Redis-backed [Limiter].
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "tl"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) refreshKey(subject string) string {
	return l.config.Prefix + ":rl:{" + subject + "}"
}

// CheckRefresh counts one refresh attempt for subject and reports
// ErrRateLimited once the window budget is spent.
func (l *Limiter) CheckRefresh(ctx context.Context, subject string) error {
	count, err := l.incrementWithTTL(ctx, l.refreshKey(subject), l.config.RefreshCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

// RefreshAttempts returns the attempts counted in the current window.
func (l *Limiter) RefreshAttempts(ctx context.Context, subject string) (int, error) {
	count, err := l.redis.Get(ctx, l.refreshKey(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// ResetRefresh clears the window for subject.
func (l *Limiter) ResetRefresh(ctx context.Context, subject string) error {
	if err := l.redis.Del(ctx, l.refreshKey(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set by the first hit only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
