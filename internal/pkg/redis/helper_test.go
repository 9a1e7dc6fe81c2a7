package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	redis "github.com/redis/go-redis/v9"
)

// setupTestRedis starts an in-process redis and wraps a client around it.
func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// genLockKey generates random lock names for property testing
func genLockKey() gopter.Gen {
	return gen.Identifier().Map(func(s string) string { return "lock:" + s })
}

// genTTL generates lock TTLs between 1 and 60 seconds
func genTTL() gopter.Gen {
	return gen.IntRange(1, 60).Map(func(seconds int) time.Duration {
		return time.Duration(seconds) * time.Second
	})
}
