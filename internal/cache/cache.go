// Package cache implements the bounded LRU+TTL map that fronts identity
// reads and search results. One Cache instance serves one value type; the
// facade keeps a cache per entity kind.
package cache

import (
	"container/list"
	"sort"
	"sync"
	"time"
)

// Options configures a cache instance.
type Options struct {
	MaxSize        int           // entry cap, evicts LRU at the limit (default 1000)
	TTL            time.Duration // 0 disables expiry (default 5m via config)
	UpdateAgeOnGet bool          // Get refreshes recency
}

// EvictFunc is notified when a size-limit eviction removes an entry.
// Explicit deletes and TTL reclamation do not fire it.
type EvictFunc[V any] func(key string, value V)

type entry[V any] struct {
	key       string
	value     V
	timestamp time.Time
	hits      int
}

// Cache is a thread-safe string-keyed LRU with per-entry TTL and hit
// accounting. All operations are synchronous and never block on I/O.
type Cache[V any] struct {
	mu      sync.Mutex
	opts    Options
	ll      *list.List // front = most recently used
	items   map[string]*list.Element
	onEvict EvictFunc[V]

	hits    uint64
	misses  uint64
	sets    uint64
	deletes uint64
}

// Stats is a point-in-time accounting snapshot.
type Stats struct {
	Size         int     `json:"size"`
	MaxSize      int     `json:"maxSize"`
	HitRate      float64 `json:"hitRate"`
	TotalHits    uint64  `json:"totalHits"`
	TotalMisses  uint64  `json:"totalMisses"`
	TotalSets    uint64  `json:"totalSets"`
	TotalDeletes uint64  `json:"totalDeletes"`
}

// EntryMetadata accompanies a value returned by GetWithMetadata.
type EntryMetadata struct {
	Timestamp time.Time
	HitCount  int
}

// DumpEntry is one row of a Dump snapshot.
type DumpEntry[V any] struct {
	Key       string
	Value     V
	Timestamp time.Time
}

// HitEntry is one row of a GetTopHitEntries ranking.
type HitEntry[V any] struct {
	Key      string
	Value    V
	HitCount int
}

// New creates a cache. A non-positive MaxSize falls back to 1000.
func New[V any](opts Options) *Cache[V] {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	return &Cache[V]{
		opts:  opts,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

// OnEvict registers the eviction hook.
func (c *Cache[V]) OnEvict(fn EvictFunc[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	return c.opts.TTL > 0 && now.Sub(e.timestamp) > c.opts.TTL
}

// removeLocked drops an element without touching counters.
func (c *Cache[V]) removeLocked(el *list.Element) *entry[V] {
	e := el.Value.(*entry[V])
	c.ll.Remove(el)
	delete(c.items, e.key)
	return e
}

// Set inserts or replaces the entry for key. The timestamp resets to now and
// the hit count to zero. Inserting past MaxSize evicts the LRU tail and
// notifies the eviction hook.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sets++
	now := time.Now()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.timestamp = now
		e.hits = 0
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.opts.MaxSize {
		if tail := c.ll.Back(); tail != nil {
			evicted := c.removeLocked(tail)
			if c.onEvict != nil {
				c.onEvict(evicted.key, evicted.value)
			}
		}
	}

	el := c.ll.PushFront(&entry[V]{key: key, value: value, timestamp: now})
	c.items[key] = el
}

// Get returns the live value for key and records a hit, refreshing recency
// when UpdateAgeOnGet is set. Absent or expired keys record a miss; expired
// entries are reclaimed on the spot.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e, time.Now()) {
		c.removeLocked(el)
		c.misses++
		return zero, false
	}

	c.hits++
	e.hits++
	if c.opts.UpdateAgeOnGet {
		c.ll.MoveToFront(el)
	}
	return e.value, true
}

// Peek returns the live value without touching recency or hit statistics.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e, time.Now()) {
		return zero, false
	}
	return e.value, true
}

// Has reports presence without producing a hit or miss statistic.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	return !c.expired(el.Value.(*entry[V]), time.Now())
}

// Delete removes key, reporting whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	c.deletes++
	return true
}

// Clear drops every entry. Counters are preserved.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Keys snapshots all live keys, most recently used first.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if !c.expired(e, now) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Values snapshots all live values, most recently used first.
func (c *Cache[V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	vals := make([]V, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if !c.expired(e, now) {
			vals = append(vals, e.value)
		}
	}
	return vals
}

// Entries snapshots all live entries with timestamps, most recently used
// first.
func (c *Cache[V]) Entries() []DumpEntry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entriesLocked()
}

func (c *Cache[V]) entriesLocked() []DumpEntry[V] {
	now := time.Now()
	out := make([]DumpEntry[V], 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if !c.expired(e, now) {
			out = append(out, DumpEntry[V]{Key: e.key, Value: e.value, Timestamp: e.timestamp})
		}
	}
	return out
}

// GetWithMetadata is Get plus the entry's timestamp and hit count. The hit
// count includes the hit this call just recorded.
func (c *Cache[V]) GetWithMetadata(key string) (V, EntryMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, EntryMetadata{}, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e, time.Now()) {
		c.removeLocked(el)
		c.misses++
		return zero, EntryMetadata{}, false
	}

	c.hits++
	e.hits++
	if c.opts.UpdateAgeOnGet {
		c.ll.MoveToFront(el)
	}
	return e.value, EntryMetadata{Timestamp: e.timestamp, HitCount: e.hits}, true
}

// GetRemainingTTL returns the time until key expires, 0 if it is absent or
// already expired, and the full TTL horizon has no meaning when TTL is
// disabled (returns 0 then too).
func (c *Cache[V]) GetRemainingTTL(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.TTL <= 0 {
		return 0
	}
	el, ok := c.items[key]
	if !ok {
		return 0
	}
	e := el.Value.(*entry[V])
	remaining := c.opts.TTL - time.Since(e.timestamp)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Prune eagerly drops every expired entry and returns how many were removed.
func (c *Cache[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry[V]), now) {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// WarmUp seeds the cache with fresh entries.
func (c *Cache[V]) WarmUp(entries map[string]V) {
	for k, v := range entries {
		c.Set(k, v)
	}
}

// Dump snapshots the cache for persistence, most recently used first.
func (c *Cache[V]) Dump() []DumpEntry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entriesLocked()
}

// Load restores a Dump, preserving the dumped timestamps so TTL accounting
// survives the round trip. Entries are loaded oldest-recency-last so the
// dump's LRU order is reproduced.
func (c *Cache[V]) Load(entries []DumpEntry[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		d := entries[i]
		if el, ok := c.items[d.Key]; ok {
			c.removeLocked(el)
		}
		if c.ll.Len() >= c.opts.MaxSize {
			if tail := c.ll.Back(); tail != nil {
				c.removeLocked(tail)
			}
		}
		el := c.ll.PushFront(&entry[V]{key: d.Key, value: d.Value, timestamp: d.Timestamp})
		c.items[d.Key] = el
	}
}

// GetTopHitEntries returns the n most-hit live entries, descending.
func (c *Cache[V]) GetTopHitEntries(n int) []HitEntry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	out := make([]HitEntry[V], 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if !c.expired(e, now) {
			out = append(out, HitEntry[V]{Key: e.key, Value: e.value, HitCount: e.hits})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].HitCount > out[j].HitCount })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Len returns the current entry count, expired entries included until they
// are reclaimed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// GetStats returns the accounting snapshot. HitRate is hits/(hits+misses),
// 0 when there have been no lookups.
func (c *Cache[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:         c.ll.Len(),
		MaxSize:      c.opts.MaxSize,
		TotalHits:    c.hits,
		TotalMisses:  c.misses,
		TotalSets:    c.sets,
		TotalDeletes: c.deletes,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
