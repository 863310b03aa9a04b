// Package cache is the process-local TTL cache that fronts price queries.
package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// Entry is one cached value with its bookkeeping.
type Entry struct {
	Key       string
	Data      any
	CreatedAt time.Time
	ExpiresAt time.Time
	SizeBytes int
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// ItemStats describes one live entry in Stats.
type ItemStats struct {
	Key       string    `json:"key"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats is a snapshot of the cache contents.
type Stats struct {
	ItemCount int         `json:"item_count"`
	TotalSize int         `json:"total_size"`
	Items     []ItemStats `json:"items"`
}

// Cache is an in-memory key/value store with per-entry TTL. Expiry is lazy:
// an entry past its deadline is removed the first time Get or Has sees it.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     Clock
}

// New creates an empty cache. A nil clock means time.Now.
func New(clock Clock) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		entries: make(map[string]*Entry),
		now:     clock,
	}
}

// Set stores data under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		c.Delete(key)
		return
	}
	now := c.now()
	entry := &Entry{
		Key:       key,
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		SizeBytes: sizeOf(data),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Get returns the live value under key.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// Has reports whether key holds a live value.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(key)
	return ok
}

// lookup must be called with mu held.
func (c *Cache) lookup(key string) (*Entry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return entry, true
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry, expired or not.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// Stats reports entries currently held. Expired entries that have not been
// accessed yet are still counted, matching the lazy expiry model.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{Items: make([]ItemStats, 0, len(c.entries))}
	for _, e := range c.entries {
		stats.ItemCount++
		stats.TotalSize += e.SizeBytes
		stats.Items = append(stats.Items, ItemStats{
			Key:       e.Key,
			SizeBytes: e.SizeBytes,
			CreatedAt: e.CreatedAt,
			ExpiresAt: e.ExpiresAt,
		})
	}
	sort.Slice(stats.Items, func(i, j int) bool { return stats.Items[i].Key < stats.Items[j].Key })
	return stats
}

// sizeOf approximates the memory held by data by its JSON encoding length.
func sizeOf(data any) int {
	b, err := json.Marshal(data)
	if err != nil {
		return 0
	}
	return len(b)
}
