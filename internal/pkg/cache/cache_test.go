package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_SetGet(t *testing.T) {
	srv := miniredis.RunT(t)
	c := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "reconciler")
	ctx := context.Background()

	key := c.GenerateKey("estimate", "abc")
	assert.Equal(t, "reconciler:estimate:abc", key)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []byte(`{"tax":500}`), time.Minute))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"tax":500}`, string(got))

	srv.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "entry expired")
}

func TestRedisCache_ServerDown(t *testing.T) {
	srv := miniredis.NewMiniRedis()
	require.NoError(t, srv.Start())
	addr := srv.Addr()
	srv.Close()
	c := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1}), "reconciler")

	_, _, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newMemoryCache("reconciler", func() time.Time { return now })
	ctx := context.Background()

	value := []byte("v1")
	require.NoError(t, c.Set(ctx, "k", value, 10*time.Minute))
	value[0] = 'x'

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", string(got), "stored value is copied")

	now = now.Add(10 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
