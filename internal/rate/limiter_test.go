package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLimiter(t, Config{MaxRefreshAttempts: 3, RefreshCooldownDuration: time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckRefresh(ctx, "alice"))
	}
	require.ErrorIs(t, l.CheckRefresh(ctx, "alice"), ErrRateLimited)

	// Other subjects keep their own budget.
	require.NoError(t, l.CheckRefresh(ctx, "bob"))

	n, err := l.RefreshAttempts(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, time.Minute, mr.TTL(l.refreshKey("alice")))

	mr.FastForward(time.Minute)
	require.NoError(t, l.CheckRefresh(ctx, "alice"))
}

func TestLimiterReset(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLimiter(t, Config{MaxRefreshAttempts: 1, RefreshCooldownDuration: time.Minute, Prefix: "x"})

	require.Equal(t, "x:rl:{alice}", l.refreshKey("alice"))
	require.NoError(t, l.CheckRefresh(ctx, "alice"))
	require.ErrorIs(t, l.CheckRefresh(ctx, "alice"), ErrRateLimited)
	require.NoError(t, l.ResetRefresh(ctx, "alice"))
	require.NoError(t, l.CheckRefresh(ctx, "alice"))

	n, err := l.RefreshAttempts(ctx, "nobody")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLimiterRedisDown(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{MaxRefreshAttempts: 1, RefreshCooldownDuration: time.Minute})
	mr.Close()

	require.ErrorIs(t, l.CheckRefresh(context.Background(), "alice"), ErrRedisUnavailable)
}

func TestLocalBucket(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	l := newLocal(Config{MaxRefreshAttempts: 2, RefreshCooldownDuration: time.Minute}, clock)

	require.NoError(t, l.CheckRefresh(ctx, "alice"))
	require.NoError(t, l.CheckRefresh(ctx, "alice"))
	require.ErrorIs(t, l.CheckRefresh(ctx, "alice"), ErrRateLimited)
	require.NoError(t, l.CheckRefresh(ctx, "bob"))

	// Two per minute refill one token every 30s.
	advance(30 * time.Second)
	require.NoError(t, l.CheckRefresh(ctx, "alice"))
	require.ErrorIs(t, l.CheckRefresh(ctx, "alice"), ErrRateLimited)

	require.Equal(t, 2, l.tracked())
	advance(localSweepInterval)
	require.NoError(t, l.CheckRefresh(ctx, "carol"))
	require.Equal(t, 1, l.tracked())
}

func TestLocalCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewLocal(Config{MaxRefreshAttempts: 1}).CheckRefresh(ctx, "alice"), context.Canceled)
}
