package circuit

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

// shardedBreakers spreads breakers over independently locked shards so hot
// agents do not contend on one registry lock.
type shardedBreakers struct {
	shards [shardCount]*breakerShard
}

type breakerShard struct {
	mu    sync.RWMutex
	items map[string]*Breaker
}

func newShardedBreakers() *shardedBreakers {
	m := &shardedBreakers{}
	for i := range m.shards {
		m.shards[i] = &breakerShard{items: make(map[string]*Breaker)}
	}
	return m
}

func (m *shardedBreakers) shard(key string) *breakerShard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum64()%shardCount]
}

func (m *shardedBreakers) get(key string) (*Breaker, bool) {
	s := m.shard(key)
	s.mu.RLock()
	b, ok := s.items[key]
	s.mu.RUnlock()
	return b, ok
}

// getOrCreate returns the existing breaker or stores the one built by create.
func (m *shardedBreakers) getOrCreate(key string, create func() *Breaker) *Breaker {
	if b, ok := m.get(key); ok {
		return b
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.items[key]; ok {
		return b
	}
	b := create()
	s.items[key] = b
	return b
}

func (m *shardedBreakers) each(fn func(*Breaker)) {
	for _, s := range m.shards {
		s.mu.RLock()
		items := make([]*Breaker, 0, len(s.items))
		for _, b := range s.items {
			items = append(items, b)
		}
		s.mu.RUnlock()
		for _, b := range items {
			fn(b)
		}
	}
}

func (m *shardedBreakers) len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}
