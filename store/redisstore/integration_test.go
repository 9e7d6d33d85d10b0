//go:build integration

package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/MrEthical07/tokenlife/store"
	"github.com/MrEthical07/tokenlife/store/storetest"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Runs the store contract against a real server, which executes the Lua
// scripts with the real interpreter. Set REDIS_ADDR to enable.
func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}

	storetest.Run(t, func(t *testing.T, opts store.Options) store.Store {
		prefix := "tl-it-" + uuid.NewString()[:8]
		t.Cleanup(func() {
			ctx := context.Background()
			iter := rdb.Scan(ctx, 0, prefix+":*", 100).Iterator()
			for iter.Next(ctx) {
				_ = rdb.Del(ctx, iter.Val()).Err()
			}
		})
		return New(rdb, prefix, opts)
	})
}
