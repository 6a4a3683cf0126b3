package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Ragudos/chat-server/models"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by a Cache when the key is absent.
var ErrCacheMiss = errors.New("cache: miss")

// Cache is the key-value store CachedDirectory keeps identities in.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to url and pings it.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return res, err
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// CachedDirectory is a read-through cache in front of another Directory.
// Only identities are cached, never messages. A failing cache is logged and
// bypassed.
type CachedDirectory struct {
	next  Directory
	cache Cache
	ttl   time.Duration
}

func NewCachedDirectory(next Directory, cache Cache, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, cache: cache, ttl: ttl}
}

func identityKey(userID int64) string {
	return fmt.Sprintf("chat:identity:%d", userID)
}

func (d *CachedDirectory) Resolve(ctx context.Context, userID int64) (models.User, error) {
	key := identityKey(userID)

	raw, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var user models.User
		if err := json.Unmarshal([]byte(raw), &user); err == nil {
			return user, nil
		}
		log.Printf("Discarding malformed cached identity %s", key)
	case !errors.Is(err, ErrCacheMiss):
		log.Printf("Identity cache get %s failed: %v", key, err)
	}

	user, err := d.next.Resolve(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	if b, err := json.Marshal(user); err == nil {
		if err := d.cache.Set(ctx, key, string(b), d.ttl); err != nil {
			log.Printf("Identity cache set %s failed: %v", key, err)
		}
	}
	return user, nil
}
