package dashboard

import (
	"sync"
	"time"
)

// PageCacheEntry is a fetched page fragment.
type PageCacheEntry struct {
	Page     string
	HTML     string
	LoadedAt time.Time
}

// PageCache holds page fragments keyed by page id. Entries never expire;
// they are only dropped by Invalidate.
type PageCache struct {
	mu      sync.RWMutex
	entries map[string]PageCacheEntry
}

// NewPageCache returns an empty cache.
func NewPageCache() *PageCache {
	return &PageCache{entries: make(map[string]PageCacheEntry)}
}

// Get returns the entry for page.
func (c *PageCache) Get(page string) (PageCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[page]
	return e, ok
}

// Put stores an entry, replacing any previous one for the same page.
func (c *PageCache) Put(e PageCacheEntry) {
	c.mu.Lock()
	c.entries[e.Page] = e
	c.mu.Unlock()
}

// Invalidate drops the entry for page.
func (c *PageCache) Invalidate(page string) {
	c.mu.Lock()
	delete(c.entries, page)
	c.mu.Unlock()
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
