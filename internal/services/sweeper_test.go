package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/internal/pkg/redis"
)

func newSweeper(t *testing.T, f *fixture, locker Locker) *Sweeper {
	t.Helper()
	return NewSweeper(f.inviteSvc, f.tokenSvc, f.mediaSvc, locker, &f.cfg.Sweep, zap.NewNop())
}

func seedGarbage(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	u := f.createUser(t, "alice")

	hours := 1
	_, err := f.inviteSvc.GenerateCode(ctx, u.ID, "", &hours)
	require.NoError(t, err)

	pair, err := f.tokenSvc.Issue(ctx, u, "")
	require.NoError(t, err)
	require.NoError(t, f.tokenSvc.Revoke(ctx, pair.RefreshToken))

	file := f.upload(t, textUpload(u.ID, "garbage"))
	require.NoError(t, f.mediaSvc.Delete(ctx, file.ID, u.ID))

	f.clock.Advance(2 * time.Hour)
}

func TestSweeper_RunOnce(t *testing.T) {
	f := newFixture(t)
	seedGarbage(t, f)

	report, err := newSweeper(t, f, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Invites: 1, RefreshTokens: 1, Media: 1}, report)

	report, err = newSweeper(t, f, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{}, report)
}

func TestSweeper_SingleReplica(t *testing.T) {
	f := newFixture(t)
	seedGarbage(t, f)

	mr := miniredis.RunT(t)
	rdb := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rdb.Close() })
	ctx := context.Background()

	// another replica holds the lock
	token, ok, err := rdb.TryLock(ctx, sweepLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := newSweeper(t, f, rdb).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Len(t, f.tokens.All(), 1)

	require.NoError(t, rdb.Unlock(ctx, sweepLockKey, token))
	report, err = newSweeper(t, f, rdb).RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.EqualValues(t, 1, report.Media)

	// the sweep released its lock
	assert.False(t, mr.Exists(sweepLockKey))
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	f.cfg.Sweep.Schedule = "every so often"

	s := newSweeper(t, f, nil)
	assert.Error(t, s.Start())
	s.Stop()
}

func TestSweeper_StartStop(t *testing.T) {
	f := newFixture(t)
	s := newSweeper(t, f, nil)
	require.NoError(t, s.Start())
	s.Stop()
}
