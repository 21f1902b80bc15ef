package gif

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache keeps provider bearer tokens until they expire.
type TokenCache interface {
	Get(ctx context.Context, provider string) (string, bool, error)
	Set(ctx context.Context, provider, token string, ttl time.Duration) error
	Delete(ctx context.Context, provider string) error
}

type cachedToken struct {
	value   string
	expires time.Time
}

type MemoryCache struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{tokens: make(map[string]cachedToken), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, provider string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[provider]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(t.expires) {
		delete(c.tokens, provider)
		return "", false, nil
	}
	return t.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, provider, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[provider] = cachedToken{value: token, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, provider string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, provider)
	return nil
}

const redisKeyPrefix = "gif:token:"

// RedisCache lets several processes share one upstream token.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, provider string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, redisKeyPrefix+provider).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, provider, token string, ttl time.Duration) error {
	return c.rdb.Set(ctx, redisKeyPrefix+provider, token, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, provider string) error {
	return c.rdb.Del(ctx, redisKeyPrefix+provider).Err()
}
