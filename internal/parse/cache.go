// Package parse turns batches of raw URLs into downloadable format
// entries: one staggered worker per URL, canonical-key deduplication
// into a bounded insertion-ordered cache, and incremental delivery of
// results as they arrive.
package parse

import (
	"sync"
	"time"

	"github.com/yeguo/idm/internal/model"
)

// Entry is one cached parse result
type Entry struct {
	Key       string
	SourceURL string
	Title     string
	Formats   []model.FormatEntry
	AddedAt   time.Time
}

// Cache holds parse results keyed by canonical URL, in insertion
// order, evicting the oldest entry when the limit is exceeded.
type Cache struct {
	mu      sync.Mutex
	limit   int
	entries map[string]*Entry
	order   []string
}

// NewCache creates a cache bounded to limit entries
func NewCache(limit int) *Cache {
	if limit < 1 {
		limit = 1
	}
	return &Cache{
		limit:   limit,
		entries: make(map[string]*Entry),
	}
}

// Put inserts an entry. Returns inserted=false for a duplicate key
// (the entry is left untouched) and the key that was evicted to make
// room, if any.
func (c *Cache) Put(e *Entry) (evicted string, inserted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[e.Key]; exists {
		return "", false
	}

	e.AddedAt = time.Now()
	c.entries[e.Key] = e
	c.order = append(c.order, e.Key)

	if len(c.order) > c.limit {
		evicted = c.order[0]
		c.order = c.order[1:]
		delete(c.entries, evicted)
	}
	return evicted, true
}

// Get returns the cached entry for a canonical key
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Contains reports whether the key is cached
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Keys returns the cached keys oldest first
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.order = nil
}
