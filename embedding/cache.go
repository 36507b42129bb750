package embedding

import (
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheCapacity bounds the LRU cache when no capacity is configured.
const DefaultCacheCapacity = 10000

// Cache maps content hashes to embedding vectors. Implementations must be
// safe for concurrent use. Stored slices are owned by the cache; callers
// receive copies from Provider.
type Cache interface {
	Get(key string) ([]float32, bool)
	Add(key string, vec []float32)
	Len() int
}

// LRUCache is a bounded cache that evicts the least recently used entry.
type LRUCache struct {
	cache *lru.Cache[string, []float32]
}

var _ Cache = (*LRUCache)(nil)

// NewLRUCache creates an LRU cache holding up to capacity vectors.
func NewLRUCache(capacity int) (*LRUCache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: c}, nil
}

func (c *LRUCache) Get(key string) ([]float32, bool) {
	return c.cache.Get(key)
}

func (c *LRUCache) Add(key string, vec []float32) {
	c.cache.Add(key, vec)
}

func (c *LRUCache) Len() int {
	return c.cache.Len()
}

// UnboundedCache never evicts. Entries live for the process lifetime.
type UnboundedCache struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

var _ Cache = (*UnboundedCache)(nil)

// NewUnboundedCache creates an empty unbounded cache.
func NewUnboundedCache() *UnboundedCache {
	return &UnboundedCache{entries: make(map[string][]float32)}
}

func (c *UnboundedCache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *UnboundedCache) Add(key string, vec []float32) {
	c.mu.Lock()
	c.entries[key] = vec
	c.mu.Unlock()
}

func (c *UnboundedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// NewCache returns an UnboundedCache for capacity 0 and an LRUCache otherwise.
// A negative capacity selects DefaultCacheCapacity.
func NewCache(capacity int) (Cache, error) {
	if capacity == 0 {
		return NewUnboundedCache(), nil
	}
	return NewLRUCache(capacity)
}

func clone(v []float32) []float32 {
	return slices.Clone(v)
}
