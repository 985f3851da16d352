package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"podpiska-billing/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedisLease_ExclusiveUntilReleased(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	first := NewRedisLease(client, "billing:scheduler:lease", time.Minute, logger.NewTestLogger(t))
	second := NewRedisLease(client, "billing:scheduler:lease", time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	release, ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a held lease cannot be taken")

	release()
	assert.False(t, mr.Exists("billing:scheduler:lease"))

	release2, ok, err := second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestRedisLease_ExpiresAfterTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	lease := NewRedisLease(client, "lease", 30*time.Second, logger.NewTestLogger(t))
	ctx := context.Background()

	_, ok, _ := lease.Acquire(ctx)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	_, ok, err := lease.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLease_StaleReleaseKeepsNewOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	stale := NewRedisLease(client, "lease", 10*time.Second, logger.NewTestLogger(t))
	releaseStale, ok, _ := stale.Acquire(ctx)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	owner := NewRedisLease(client, "lease", 10*time.Second, logger.NewTestLogger(t))
	owner.newToken = func() string { return "owner-token" }
	_, ok, _ = owner.Acquire(ctx)
	require.True(t, ok)

	releaseStale()

	value, err := mr.Get("lease")
	require.NoError(t, err)
	assert.Equal(t, "owner-token", value)
}

func TestRedisLease_CommandsWithRedismock(t *testing.T) {
	client, mock := redismock.NewClientMock()
	lease := NewRedisLease(client, "lease", time.Minute, logger.NewTestLogger(t))
	lease.newToken = func() string { return "tok-1" }

	mock.ExpectSetNX("lease", "tok-1", time.Minute).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"lease"}, "tok-1").SetVal(int64(1))

	release, ok, err := lease.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLease_ReleaseFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	client, mock := redismock.NewClientMock()
	lease := NewRedisLease(client, "lease", time.Minute, logger.NewZapAdapter(zap.New(core)))
	lease.newToken = func() string { return "tok-1" }

	mock.ExpectSetNX("lease", "tok-1", time.Minute).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"lease"}, "tok-1").SetErr(errors.New("connection reset"))

	release, ok, err := lease.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	release()

	failed := logs.FilterMessage("failed to release lease; held until ttl").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "connection reset", failed[0].ContextMap()["error"])
	assert.Equal(t, "lease", failed[0].ContextMap()["key"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLease_Error(t *testing.T) {
	client, mock := redismock.NewClientMock()
	lease := NewRedisLease(client, "lease", time.Minute, logger.NewTestLogger(t))
	lease.newToken = func() string { return "tok-1" }

	mock.ExpectSetNX("lease", "tok-1", time.Minute).SetErr(errors.New("connection refused"))

	release, ok, err := lease.Acquire(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)
}

func TestLocalLease(t *testing.T) {
	release, ok, err := LocalLease{}.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}
