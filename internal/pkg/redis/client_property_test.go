package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_LockMutualExclusion checks that for any lock key, concurrent
// TryLock calls grant the lock to exactly one caller.
func TestProperty_LockMutualExclusion(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	properties := gopter.NewProperties(nil)

	properties.Property("exactly one concurrent TryLock succeeds",
		prop.ForAll(
			func(key string, ttl time.Duration, contenders int) bool {
				mr.FlushAll()

				var winners atomic.Int32
				var wg sync.WaitGroup
				for range contenders {
					wg.Go(func() {
						_, ok, err := client.TryLock(ctx, key, ttl)
						if err != nil {
							t.Logf("TryLock error: %v", err)
							return
						}
						if ok {
							winners.Add(1)
						}
					})
				}
				wg.Wait()
				return winners.Load() == 1
			},
			genLockKey(),
			genTTL(),
			gen.IntRange(2, 16),
		))

	properties.Property("lock is free again after its TTL elapses",
		prop.ForAll(
			func(key string, ttl time.Duration) bool {
				mr.FlushAll()
				if _, ok, err := client.TryLock(ctx, key, ttl); err != nil || !ok {
					return false
				}
				if _, ok, _ := client.TryLock(ctx, key, ttl); ok {
					return false
				}
				mr.FastForward(ttl + time.Millisecond)
				_, ok, err := client.TryLock(ctx, key, ttl)
				return err == nil && ok
			},
			genLockKey(),
			genTTL(),
		))

	properties.TestingRun(t)
}
