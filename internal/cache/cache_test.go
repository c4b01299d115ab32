package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONRoundTrip(t *testing.T) {
	_, rdb := setupRedis(t)
	ctx := context.Background()

	var dest payload
	found, err := GetJSON(ctx, rdb, "k", &dest)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, SetJSON(ctx, rdb, "k", payload{Name: "a", Count: 2}, time.Minute))
	found, err = GetJSON(ctx, rdb, "k", &dest)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload{Name: "a", Count: 2}, dest)
}

func TestNilClientIsMiss(t *testing.T) {
	var dest payload
	found, err := GetJSON(context.Background(), nil, "k", &dest)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, SetJSON(context.Background(), nil, "k", dest, time.Minute))
	Invalidate(context.Background(), nil, "k")
}

func TestCacheAside(t *testing.T) {
	mr, rdb := setupRedis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *payload) func() error {
		return func() error {
			calls++
			*dest = payload{Name: "fresh", Count: calls}
			return nil
		}
	}

	var first payload
	require.NoError(t, CacheAside(ctx, rdb, "snap", &first, time.Minute, fetch(&first)))
	var second payload
	require.NoError(t, CacheAside(ctx, rdb, "snap", &second, time.Minute, fetch(&second)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	mr.FastForward(2 * time.Minute)
	var third payload
	require.NoError(t, CacheAside(ctx, rdb, "snap", &third, time.Minute, fetch(&third)))
	assert.Equal(t, 2, calls)

	Invalidate(ctx, rdb, "snap")
	assert.False(t, mr.Exists("snap"))

	var failed payload
	err := CacheAside(ctx, rdb, "other", &failed, time.Minute, func() error { return errors.New("db down") })
	assert.EqualError(t, err, "db down")
}

func TestTryLock(t *testing.T) {
	mr, rdb := setupRedis(t)
	ctx := context.Background()
	key := SnapshotLockKey("daily")

	lock, err := TryLock(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lock)

	other, err := TryLock(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists(key))

	again, err := TryLock(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestLockReleaseDoesNotStealForeignLock(t *testing.T) {
	mr, rdb := setupRedis(t)
	ctx := context.Background()

	lock, err := TryLock(ctx, rdb, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := TryLock(ctx, rdb, "k", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, other)

	require.NoError(t, lock.Release(ctx))
	assert.True(t, mr.Exists("k"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "analytics:snapshot:latest:daily", LatestSnapshotKey("daily"))
	assert.Equal(t, "tenant:resolve:toronto chapter", TenantKey("toronto chapter"))
}
