package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *RedisCache {
	t.Helper()
	_ = godotenv.Load("../../../.env")
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	cache := NewRedisCache()
	require.NoError(t, cache.Connect(url))
	require.NoError(t, cache.Clear(context.Background()))
	t.Cleanup(func() { cache.Disconnect() })
	return cache
}

func TestRedisCacheSetGet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "reminder_1", true, 0))
	value, err := cache.Get(ctx, "reminder_1")
	require.NoError(t, err)
	assert.Equal(t, true, value)

	require.NoError(t, cache.Set(ctx, "profile", map[string]interface{}{"streak": 3}, time.Minute))
	value, err = cache.Get(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"streak": float64(3)}, value)
}

func TestRedisCacheMiss(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCacheConnectBadURL(t *testing.T) {
	err := NewRedisCache().Connect("not a url")
	assert.Error(t, err)
}
