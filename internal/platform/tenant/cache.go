package tenant

import (
	"sync"
	"time"
)

type cacheEntry struct {
	namespace string
	expiresAt time.Time
}

// localCache is the in-process resolve cache. Expired entries are dropped
// lazily on read.
type localCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newLocalCache(now func() time.Time) *localCache {
	return &localCache{entries: make(map[string]cacheEntry), now: now}
}

func (c *localCache) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt == entry.expiresAt {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return "", false
	}
	return entry.namespace, true
}

func (c *localCache) Set(key, namespace string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{namespace: namespace, expiresAt: c.now().Add(ttl)}
}

func (c *localCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *localCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
