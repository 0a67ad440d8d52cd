package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache stores compiled graphs. Clear must be idempotent.
type Cache interface {
	Get(ctx context.Context, key string) (*Graph, bool, error)
	Set(ctx context.Context, key string, g *Graph) error
	Clear(ctx context.Context) error
}

const (
	defaultNumCounters = 1e4
	defaultMaxCost     = 1e3
	defaultBufferItems = 64
	defaultTTL         = 10 * time.Minute
)

// MemoryConfig configures a MemoryCache. Zero fields take defaults.
type MemoryConfig struct {
	NumCounters int64
	MaxCost     int64
	TTL         time.Duration
}

// MemoryCache is an in-process graph cache. Every graph costs 1, so MaxCost
// bounds the number of entries.
type MemoryCache struct {
	cache  *ristretto.Cache
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool

	hits   atomic.Int64
	misses atomic.Int64
}

func NewMemoryCache(cfg MemoryConfig) (*MemoryCache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaultNumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = defaultMaxCost
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        defaultBufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: cache, ttl: cfg.TTL}, nil
}

func (c *MemoryCache) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Graph, bool, error) {
	if c.isClosed() {
		return nil, false, nil
	}
	v, ok := c.cache.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	g, ok := v.(*Graph)
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return g, true, nil
}

// Set stores g and waits for the write buffer so the entry is visible to
// the next Get.
func (c *MemoryCache) Set(_ context.Context, key string, g *Graph) error {
	if c.isClosed() || g == nil {
		return nil
	}
	c.cache.SetWithTTL(key, g, 1, c.ttl)
	c.cache.Wait()
	return nil
}

func (c *MemoryCache) Clear(context.Context) error {
	if c.isClosed() {
		return nil
	}
	c.cache.Clear()
	return nil
}

// Stats returns hit and miss counts.
func (c *MemoryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *MemoryCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cache.Close()
}
