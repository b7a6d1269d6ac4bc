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

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCacheGetSetDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedis(t)

	_, hit, err := c.Get(ctx, "listing:x")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "listing:x", []byte(`{"versions":["1.0.0"]}`), time.Minute))

	data, hit, err := c.Get(ctx, "listing:x")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"versions":["1.0.0"]}`, string(data))

	require.NoError(t, c.Delete(ctx, "listing:x"))
	_, hit, err = c.Get(ctx, "listing:x")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCacheTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	require.NoError(t, c.Set(ctx, "archive:x", []byte("zip"), 30*time.Minute))
	assert.Equal(t, 30*time.Minute, mr.TTL("archive:x"))

	mr.FastForward(31 * time.Minute)
	_, hit, err := c.Get(ctx, "archive:x")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestNewRedisCacheErrors(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "not a url")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisCache(context.Background(), "redis://"+addr)
	assert.Error(t, err)
}

func TestNewRedisCacheFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 0))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
