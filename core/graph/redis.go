package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
)

const defaultKeyPrefix = "switchyard:graph:"

// RedisConfig configures a RedisCache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisCache shares compiled graphs between processes. Values are JSON.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, coreerrors.New(coreerrors.KindCacheBackend, "connect", cfg.Addr, "redis ping failed", err)
	}
	return NewRedisCacheFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Graph, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coreerrors.New(coreerrors.KindCacheBackend, "get", key, "redis get failed", err)
	}

	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, false, coreerrors.New(coreerrors.KindCacheBackend, "get", key, "decode graph", err)
	}
	return &g, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, g *Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return coreerrors.New(coreerrors.KindCacheBackend, "set", key, "redis set failed", err)
	}
	return nil
}

// Clear deletes every key under the prefix using SCAN, leaving other data alone.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return coreerrors.New(coreerrors.KindCacheBackend, "clear", c.prefix, "redis scan failed", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return coreerrors.New(coreerrors.KindCacheBackend, "clear", c.prefix, "redis del failed", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
