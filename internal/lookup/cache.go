// Package lookup provides the reverse-DNS and ASN collaborators used to
// annotate traceroute hops, and the caches behind them.
package lookup

import (
	"sync"
	"time"
)

// Cache stores lookup results for a limited time.
type Cache interface {
	Get(key string) (string, bool)
	Put(key, value string, ttl time.Duration)
}

type entry struct {
	value string
	exp   time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]entry{}, now: time.Now}
}

func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.exp) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *MemoryCache) Put(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, exp: c.now().Add(ttl)}
}
