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

type point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheWithClient(client, "epicast")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func backends(t *testing.T) map[string]Service {
	rc, _ := newRedisCache(t)
	mc := NewMemoryCache(WithMemoryMaxSize(10))
	t.Cleanup(func() { _ = mc.Close() })
	return map[string]Service{"redis": rc, "memory": mc}
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			in := []point{{Date: "2024-03-03", Value: 11.5}}
			require.NoError(t, c.Set(ctx, ForecastKey("370"), in, time.Minute))

			var out []point
			require.NoError(t, c.Get(ctx, ForecastKey("370"), &out))
			assert.Equal(t, in, out)

			require.NoError(t, c.Delete(ctx, ForecastKey("370")))
			assert.ErrorIs(t, c.Get(ctx, ForecastKey("370"), &out), ErrCacheMiss)
		})
	}
}

func TestDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, ForecastKey("370"), 1, 0))
			require.NoError(t, c.Set(ctx, ModelsKey("370"), 2, 0))
			require.NoError(t, c.Set(ctx, ForecastKey("10"), 3, 0))

			require.NoError(t, c.DeleteByPattern(ctx, CodePattern("370")))

			var v int
			assert.ErrorIs(t, c.Get(ctx, ForecastKey("370"), &v), ErrCacheMiss)
			assert.ErrorIs(t, c.Get(ctx, ModelsKey("370"), &v), ErrCacheMiss)
			require.NoError(t, c.Get(ctx, ForecastKey("10"), &v))
			assert.Equal(t, 3, v)
		})
	}
}

func TestTryLock(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := c.TryLock(ctx, TrainLockKey("370"), time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = c.TryLock(ctx, TrainLockKey("370"), time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Unlock(ctx, TrainLockKey("370")))
			ok, err = c.TryLock(ctx, TrainLockKey("370"), time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRedisUnlockKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	ok, err := c.TryLock(ctx, "lock:train:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// lock expired and was taken by another holder
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("epicast:lock:train:1", "other"))

	require.NoError(t, c.Unlock(ctx, "lock:train:1"))
	got, err := mr.Get("epicast:lock:train:1")
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, 0))
	time.Sleep(time.Millisecond)
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	require.NoError(t, mc.Set(ctx, "c", 3, 0))

	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
}

func TestGetOrLoad(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	calls := 0
	load := func(context.Context) ([]point, error) {
		calls++
		return []point{{Date: "2024-01-06", Value: 4}}, nil
	}
	v, hit, err := GetOrLoad(ctx, mc, "k", time.Minute, load)
	require.NoError(t, err)
	assert.False(t, hit)
	v2, hit, err := GetOrLoad(ctx, mc, "k", time.Minute, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, v, v2)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, _, err = GetOrLoad(ctx, mc, "other", time.Minute, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}
