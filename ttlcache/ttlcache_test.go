package ttlcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test"), mr
}

func TestSetGetExpire(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "otp:+1", []byte("hash"), 5*time.Minute))
	assert.True(t, mr.Exists("test:otp:+1"))

	val, err := c.Get(ctx, "otp:+1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hash"), val)

	mr.FastForward(5*time.Minute + time.Second)
	_, err = c.Get(ctx, "otp:+1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Delete(ctx, "a", "b"))
	require.NoError(t, c.Delete(ctx))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "otp:+2", []byte("hash"), time.Minute))
	val, err := c.Take(ctx, "otp:+2")
	require.NoError(t, err)
	assert.Equal(t, []byte("hash"), val)
	assert.False(t, mr.Exists("test:otp:+2"))

	_, err = c.Take(ctx, "otp:+2")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	in := []string{"x", "y"}
	require.NoError(t, SetJSON(ctx, c, "list", in, time.Minute))

	var out []string
	require.NoError(t, GetJSON(ctx, c, "list", &out))
	assert.Equal(t, in, out)

	assert.ErrorIs(t, GetJSON(ctx, c, "missing", &out), ErrMiss)
}
