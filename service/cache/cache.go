// Package cache implements the in-process tier of the two-tier cache:
// bounded, per-category LRU maps with lazy TTL expiry and hit/miss
// accounting. The TTL check lives in one place (Expired) and is shared
// with the persistent tier so both reject the same entries.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alien88ted/presale-monitor/service/metrics"
)

// Entry is the envelope shared by both cache tiers.
type Entry[V any] struct {
	Value        V
	CreatedAt    time.Time
	ExpiresAt    time.Time // zero means the entry never expires
	AccessCount  int64
	LastAccessed time.Time
}

// Expired is the single TTL check used by both tiers: an entry is visible
// to reads only while now is strictly before ExpiresAt. A zero ExpiresAt
// never expires.
func Expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

// Stats are the per-cache counters surfaced to diagnostics.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 with no traffic.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is one bounded LRU category (transactions, contributors, metrics,
// wallet snapshots). A zero ttl disables expiry; entries then live until
// evicted.
type Cache[V any] struct {
	name     string
	ttl      time.Duration
	capacity int

	mu        sync.Mutex
	store     *lru.Cache[string, *Entry[V]]
	hits      uint64
	misses    uint64
	evictions uint64

	metrics *metrics.Metrics // optional
}

// New creates a bounded cache. name labels the category in diagnostics
// and Prometheus metrics; m may be nil.
func New[V any](name string, capacity int, ttl time.Duration, m *metrics.Metrics) *Cache[V] {
	c := &Cache[V]{
		name:     name,
		ttl:      ttl,
		capacity: capacity,
		metrics:  m,
	}
	store, _ := lru.New[string, *Entry[V]](capacity)
	c.store = store
	return c
}

// Get returns the cached value if present and unexpired. Expired entries
// are deleted on sight (lazy expiry) and count as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store.Get(key)
	if !ok {
		c.miss()
		return zero, false
	}
	if Expired(entry.ExpiresAt, now) {
		c.store.Remove(key)
		c.miss()
		return zero, false
	}

	entry.AccessCount++
	entry.LastAccessed = now
	c.hits++
	if c.metrics != nil {
		c.metrics.RecordCacheRequest("memory", c.name, "hit")
	}
	return entry.Value, true
}

// Set stores a value, evicting the least-recently-used entry when the
// cache is at capacity. Setting the same key twice replaces the entry.
func (c *Cache[V]) Set(key string, value V) {
	now := time.Now()
	entry := &Entry[V]{
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if c.ttl > 0 {
		entry.ExpiresAt = now.Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if evicted := c.store.Add(key, entry); evicted {
		c.evictions++
		if c.metrics != nil {
			c.metrics.RecordCacheEviction("memory", c.name)
		}
	}
}

// Delete removes a key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Remove(key)
}

// Purge drops all entries without touching the counters.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Purge()
}

// Len returns the current number of entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// Name returns the category label.
func (c *Cache[V]) Name() string { return c.name }

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.store.Len(),
		Capacity:  c.capacity,
	}
}

func (c *Cache[V]) miss() {
	c.misses++
	if c.metrics != nil {
		c.metrics.RecordCacheRequest("memory", c.name, "miss")
	}
}

// StatsProvider is implemented by every cache category regardless of its
// value type; the diagnostics monitor consumes this.
type StatsProvider interface {
	Name() string
	Stats() Stats
}
