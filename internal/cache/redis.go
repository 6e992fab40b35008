package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// RedisBackend shares the cache across processes. Entries live under
// prefix+key as JSON written with SET NX; hit counters live under
// prefix+key+":hits" and are bumped with INCR. Expiry is Redis TTL.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisBackend) entryKey(key string) string { return r.prefix + key }
func (r *RedisBackend) hitsKey(key string) string  { return r.prefix + key + ":hits" }

// putScript writes the entry only if absent and, in the same step, clears a
// counter left over from a previous, expired entry. Doing both atomically
// keeps a concurrent Hit on the new entry from being wiped.
var putScript = redis.NewScript(`
local ok
if tonumber(ARGV[2]) > 0 then
  ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2])
else
  ok = redis.call('SET', KEYS[1], ARGV[1], 'NX')
end
if ok then
  redis.call('DEL', KEYS[2])
  return 1
end
return 0
`)

// Put writes the entry only if no live entry exists.
func (r *RedisBackend) Put(ctx context.Context, e domain.CacheEntry, now time.Time) (bool, error) {
	var ttl time.Duration
	if e.ExpiresAt != nil {
		ttl = e.ExpiresAt.Sub(now)
		if ttl <= 0 {
			return false, nil
		}
	}
	e.HitCount = 0
	payload, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	n, err := putScript.Run(ctx, r.client,
		[]string{r.entryKey(e.Key), r.hitsKey(e.Key)},
		payload, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis put: %w", err)
	}
	return n == 1, nil
}

// Hit reads the entry and increments its counter.
func (r *RedisBackend) Hit(ctx context.Context, key string, now time.Time) (*domain.CacheEntry, error) {
	raw, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e domain.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	if e.Expired(now) {
		return nil, domain.ErrNotFound
	}

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, r.hitsKey(key))
	if e.ExpiresAt != nil {
		pipe.ExpireAt(ctx, r.hitsKey(key), *e.ExpiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis incr: %w", err)
	}
	e.HitCount = incr.Val()
	return &e, nil
}
