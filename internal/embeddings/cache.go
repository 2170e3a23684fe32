package embeddings

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// cache provides LRU caching for embeddings with TTL support, keyed by
// exact text match, as required by spec.md §4.13's "results cached by
// exact-text key in a bounded LRU" scheduling rule.
type cache struct {
	mu        sync.Mutex
	entries   map[string]*cacheEntry
	lruList   *list.List
	maxSize   int
	ttl       time.Duration
	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key       string
	value     []float64
	element   *list.Element
	createdAt time.Time
}

// newCache creates a new LRU cache with TTL. maxSize defaults to 1000 and
// ttl to 24h when given a non-positive value, matching spec.md's
// "≥ 1,000 entries" floor.
func newCache(maxSize int, ttl time.Duration) *cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &cache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *cache) get(text string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashKey(text)
	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if time.Since(entry.createdAt) > c.ttl {
		c.removeEntry(entry)
		c.misses++
		return nil, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	result := make([]float64, len(entry.value))
	copy(result, entry.value)
	return result, true
}

func (c *cache) set(text string, embedding []float64) {
	if len(embedding) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashKey(text)
	now := time.Now()

	if entry, exists := c.entries[key]; exists {
		entry.value = make([]float64, len(embedding))
		copy(entry.value, embedding)
		entry.createdAt = now
		c.lruList.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{key: key, value: make([]float64, len(embedding)), createdAt: now}
	copy(entry.value, embedding)
	entry.element = c.lruList.PushFront(entry)
	c.entries[key] = entry

	for c.lruList.Len() > c.maxSize {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		c.removeEntry(oldest.Value.(*cacheEntry))
		c.evictions++
	}
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.lruList = list.New()
}

// CacheStats reports cache performance for metrics export.
type CacheStats struct {
	Size      int           `json:"size"`
	MaxSize   int           `json:"max_size"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Evictions int64         `json:"evictions"`
	HitRate   float64       `json:"hit_rate"`
	TTL       time.Duration `json:"ttl"`
}

func (c *cache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Size:      c.lruList.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   hitRate,
		TTL:       c.ttl,
	}
}

func (c *cache) cleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := 0
	current := c.lruList.Back()
	for current != nil {
		entry := current.Value.(*cacheEntry)
		if time.Since(entry.createdAt) <= c.ttl {
			break
		}
		prev := current.Prev()
		c.removeEntry(entry)
		cleaned++
		current = prev
	}
	return cleaned
}

func (c *cache) removeEntry(entry *cacheEntry) {
	delete(c.entries, entry.key)
	c.lruList.Remove(entry.element)
}

func hashKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", hash)
}
