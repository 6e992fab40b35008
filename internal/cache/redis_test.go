package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// redisBackend connects to the server named by HELPDESK_TEST_REDIS and
// isolates the test under a random key prefix.
func redisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	addr := os.Getenv("HELPDESK_TEST_REDIS")
	if addr == "" {
		t.Skip("HELPDESK_TEST_REDIS not set")
	}
	client, err := DialRedis(context.Background(), addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedisBackend(client, "helpdesk-test:"+uuid.NewString()+":")
}

func TestRedisBackend_PutResetsStaleCounter(t *testing.T) {
	ctx := context.Background()
	r := redisBackend(t)
	now := time.Now()

	// a counter outliving its entry
	require.NoError(t, r.client.Set(ctx, r.hitsKey("k"), 41, time.Minute).Err())

	ok, err := r.Put(ctx, domain.CacheEntry{Key: "k", Response: "We ship worldwide."}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	e, err := r.Hit(ctx, "k", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.HitCount)
	assert.Equal(t, "We ship worldwide.", e.Response)
}

func TestRedisBackend_SecondPutKeepsLiveCounter(t *testing.T) {
	ctx := context.Background()
	r := redisBackend(t)
	now := time.Now()
	exp := now.Add(time.Hour)

	ok, err := r.Put(ctx, domain.CacheEntry{Key: "k", Response: "first", ExpiresAt: &exp}, now)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = r.Hit(ctx, "k", now)
	require.NoError(t, err)

	ok, err = r.Put(ctx, domain.CacheEntry{Key: "k", Response: "second", ExpiresAt: &exp}, now)
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := r.Hit(ctx, "k", now)
	require.NoError(t, err)
	assert.Equal(t, "first", e.Response)
	assert.Equal(t, int64(2), e.HitCount)

	ttl, err := r.client.PTTL(ctx, r.entryKey("k")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisBackend_ExpiredEntryIsNotWritten(t *testing.T) {
	r := redisBackend(t)
	now := time.Now()
	past := now.Add(-time.Second)
	ok, err := r.Put(context.Background(), domain.CacheEntry{Key: "k", ExpiresAt: &past}, now)
	require.NoError(t, err)
	assert.False(t, ok)
}
