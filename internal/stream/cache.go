package stream

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tabulon-lab/project-tabulon/internal/core/record"
)

// PageCache is a short-lived cache of fetched pages keyed by
// {cache key, query signature, offset, limit}. Concurrent requests for
// the same page are collapsed into one upstream fetch. Entries expire
// after the TTL; when the cache is full the oldest entry is evicted.
type PageCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]pageEntry
	group    singleflight.Group
	nowFn    func() time.Time
}

type pageEntry struct {
	records  []record.Record
	storedAt time.Time
}

// NewPageCache creates a page cache holding up to capacity pages for ttl.
func NewPageCache(capacity int, ttl time.Duration) *PageCache {
	return &PageCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]pageEntry),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOrFetch returns the cached page for key, or runs fetch and caches
// its result. hit reports whether the page was served from cache.
func (c *PageCache) GetOrFetch(key string, fetch func() ([]record.Record, error)) (records []record.Record, hit bool, err error) {
	if page, ok := c.lookup(key); ok {
		return page, true, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under singleflight: another caller may have populated
		// the entry while this one waited.
		if page, ok := c.lookup(key); ok {
			return page, nil
		}
		page, err := fetch()
		if err != nil {
			return nil, err
		}
		c.store(key, page)
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]record.Record), false, nil
}

func (c *PageCache) lookup(key string) ([]record.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.nowFn().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.records, true
}

func (c *PageCache) store(key string, records []record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()

	// Drop expired entries first, then evict the oldest if still full.
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.capacity {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.storedAt
			}
		}
		if oldestKey != "" {
			delete(c.entries, oldestKey)
		}
	}

	c.entries[key] = pageEntry{records: records, storedAt: now}
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
