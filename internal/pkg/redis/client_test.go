package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/Warden/config"
)

func TestNewClient(t *testing.T) {
	t.Run("connection failure with invalid address", func(t *testing.T) {
		cfg := &config.RedisConfig{
			Host:         "127.0.0.1",
			Port:         1,
			PoolSize:     1,
			MinIdleConns: 0,
		}

		client, err := NewClient(cfg)
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestTryLockAndUnlock(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	token, ok, err := client.TryLock(ctx, "lock:sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)
	assert.True(t, mr.Exists("lock:sweep"))
	assert.Equal(t, time.Minute, mr.TTL("lock:sweep"))

	_, ok, err = client.TryLock(ctx, "lock:sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	assert.ErrorIs(t, client.Unlock(ctx, "lock:sweep", "someone-else"), ErrLockNotHeld)
	assert.True(t, mr.Exists("lock:sweep"), "foreign token must not release the lock")

	require.NoError(t, client.Unlock(ctx, "lock:sweep", token))
	assert.False(t, mr.Exists("lock:sweep"))

	assert.ErrorIs(t, client.Unlock(ctx, "lock:sweep", token), ErrLockNotHeld)
}

func TestPublishSubscribe(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, "ws:user:7")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, "ws:user:7", `{"type":"media.processed"}`))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ws:user:7", msg.Channel)
	assert.Equal(t, `{"type":"media.processed"}`, msg.Payload)
}

func TestBasicKeyOps(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Set(ctx, "k", "v", time.Minute))

	v, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	n, err := client.Exists(ctx, "k", "missing")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, client.Del(ctx, "k"))
	n, err = client.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, n)
}
