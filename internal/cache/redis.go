// Package cache holds the short-lived read cache, the cross-instance locks
// and the dynamic phone blocklist. Redis backs all three in production; the
// local variants serve dev mode and tests.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

const (
	keyPrefix    = "mobile_money:"
	blocklistKey = keyPrefix + "blocklist"
)

// Key namespaces a cache key under the service prefix.
func Key(parts ...string) string {
	k := keyPrefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// RedisCache stores JSON documents with a per-entry TTL.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// releaseScript deletes the lock only if it still carries our token, so an
// expired lock re-acquired by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Obtain takes key with SET NX and returns the release function. A held lock
// yields models.ErrConflict.
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lockKey := Key("lock", key)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s is held: %w", key, models.ErrConflict)
	}

	return func() {
		// The caller's context may already be cancelled by the time we release.
		releaseScript.Run(context.Background(), l.client, []string{lockKey}, token)
	}, nil
}

// RedisBlocklist keeps blocked MSISDNs in a single Redis set.
type RedisBlocklist struct {
	client redis.UniversalClient
}

func NewRedisBlocklist(client redis.UniversalClient) *RedisBlocklist {
	return &RedisBlocklist{client: client}
}

func (b *RedisBlocklist) IsBlocked(ctx context.Context, phone string) (bool, error) {
	blocked, err := b.client.SIsMember(ctx, blocklistKey, models.MSISDN(phone)).Result()
	if err != nil {
		return false, fmt.Errorf("blocklist lookup: %w", err)
	}
	return blocked, nil
}

func (b *RedisBlocklist) Block(ctx context.Context, phone string) error {
	return b.client.SAdd(ctx, blocklistKey, models.MSISDN(phone)).Err()
}
