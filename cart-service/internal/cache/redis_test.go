package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(client, ttl)

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return cache, mr, cleanup
}

func TestLoad_Success(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()

	payload := `{"version":2,"items":[{"id":"a","quantity":2}]}`
	require.NoError(t, mr.Set(cacheKey("session-1"), payload))

	data, err := cache.Load(context.Background(), "session-1")
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(data))
}

func TestLoad_Miss(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()

	data, err := cache.Load(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	assert.Nil(t, data)
}

func TestLoad_ServerDown(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()
	mr.Close()

	_, err := cache.Load(context.Background(), "session-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSnapshotNotFound)
	assert.ErrorContains(t, err, "redis get failed")
}

func TestSave_WithTTL(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t, 24*time.Hour)
	defer cleanup()

	err := cache.Save(context.Background(), "session-2", []byte(`{"version":2,"items":[]}`))
	require.NoError(t, err)

	stored, err := mr.Get(cacheKey("session-2"))
	require.NoError(t, err)
	assert.Equal(t, `{"version":2,"items":[]}`, stored)

	ttl := mr.TTL(cacheKey("session-2"))
	assert.True(t, ttl >= 24*time.Hour, "TTL should be at least base TTL")
	assert.True(t, ttl <= 25*time.Hour, "TTL should be base + max jitter")
}

func TestSave_NoTTL(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t, 0)
	defer cleanup()

	require.NoError(t, cache.Save(context.Background(), "session-3", []byte(`[]`)))
	assert.Equal(t, time.Duration(0), mr.TTL(cacheKey("session-3")))
}

func TestSave_Overwrites(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, "s", []byte(`1`)))
	require.NoError(t, cache.Save(ctx, "s", []byte(`2`)))

	data, err := cache.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
}

func TestDelete_Success(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()

	require.NoError(t, mr.Set(cacheKey("session-9"), "{}"))
	assert.True(t, mr.Exists(cacheKey("session-9")))

	require.NoError(t, cache.Delete(context.Background(), "session-9"))
	assert.False(t, mr.Exists(cacheKey("session-9")))
}

func TestDelete_NonExistentKey(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()

	assert.NoError(t, cache.Delete(context.Background(), "nonexistent"))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:test123", cacheKey("test123"))
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCache()

	_, err := m.Load(ctx, "s")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	buf := []byte(`{"items":[]}`)
	require.NoError(t, m.Save(ctx, "s", buf))
	buf[0] = 'x'

	data, err := m.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, string(data), "stored copy must not alias the caller's buffer")

	require.NoError(t, m.Delete(ctx, "s"))
	_, err = m.Load(ctx, "s")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}
