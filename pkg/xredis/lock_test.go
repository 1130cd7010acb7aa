package xredis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestDistLock_Exclusive(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	a := NewDistLock(rdb, "lock:k1", time.Second)
	b := NewDistLock(rdb, "lock:k1", time.Second)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "同一个 key 只能有一个持有者")

	// b 不能删 a 的锁
	released, err := b.Unlock(ctx)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = a.Unlock(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistLock_ExpireAndRefresh(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	a := NewDistLock(rdb, "lock:k2", 500*time.Millisecond)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.Refresh(ctx))

	mr.FastForward(time.Second)
	assert.ErrorIs(t, a.Refresh(ctx), ErrLockNotHeld)

	b := NewDistLock(rdb, "lock:k2", time.Second)
	ok, err = b.Lock(ctx, 3, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}
