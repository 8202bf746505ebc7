// Package modelcache provides a byte-budgeted LRU cache index over loaded
// models, with lazy TTL expiry and usage tracking for preload heuristics.
// The cache tracks which models are resident and how much space they take;
// actual model weights live with the provider.
package modelcache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-resilience/provider"
)

// ErrCacheExhausted is returned when a reservation cannot fit even after
// evicting every other entry.
var ErrCacheExhausted = errors.New("cannot free enough space")

// Key identifies a cached model by provider and model name.
type Key struct {
	Provider provider.ID
	Model    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Provider, k.Model)
}

type entry struct {
	key          Key
	sizeBytes    int64
	cachedAt     time.Time
	lastAccessed time.Time
	accessCount  uint64
	elem         *list.Element
}

// Stats is a point-in-time view of cache occupancy and effectiveness.
type Stats struct {
	Entries      int     `json:"entries"`
	SizeBytes    int64   `json:"size_bytes"`
	MaxSizeBytes int64   `json:"max_size_bytes"`
	Utilization  float64 `json:"utilization"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
}

// Cache is a size-bounded LRU index. All methods are safe for concurrent
// use. Expiry is checked lazily when an entry is accessed; there is no
// background sweeper.
type Cache struct {
	mu           sync.Mutex
	entries      map[Key]*entry
	lru          *list.List // front = most recently used
	maxSizeBytes int64
	sizeBytes    int64
	ttl          time.Duration
	hits         uint64
	misses       uint64
	logger       *zap.Logger
}

// New creates a cache with the given byte budget and entry TTL.
func New(maxSizeBytes int64, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		entries:      make(map[Key]*entry),
		lru:          list.New(),
		maxSizeBytes: maxSizeBytes,
		ttl:          ttl,
		logger:       logger,
	}
}

// GetOrReserve looks up a model and, on a miss, reserves space for it.
// On a hit the entry's recency is bumped. On a miss, least recently used
// entries are evicted until the reservation fits; the evicted keys are
// returned so the caller can unload those models. When the reservation
// cannot fit even with the cache emptied, ErrCacheExhausted is returned
// and nothing is evicted.
func (c *Cache) GetOrReserve(key Key, sizeBytes int64) (hit bool, evicted []Key, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok {
		if c.expired(e, now) {
			c.remove(e)
		} else {
			e.lastAccessed = now
			e.accessCount++
			c.lru.MoveToFront(e.elem)
			c.hits++
			return true, nil, nil
		}
	}
	c.misses++

	if sizeBytes > c.maxSizeBytes {
		return false, nil, fmt.Errorf("%w: need %d bytes, budget is %d", ErrCacheExhausted, sizeBytes, c.maxSizeBytes)
	}

	for c.sizeBytes+sizeBytes > c.maxSizeBytes {
		victim := c.lru.Back()
		e := victim.Value.(*entry)
		c.remove(e)
		evicted = append(evicted, e.key)
		c.logger.Debug("model evicted from cache",
			zap.String("key", e.key.String()),
			zap.Int64("freed_bytes", e.sizeBytes))
	}

	e := &entry{
		key:          key,
		sizeBytes:    sizeBytes,
		cachedAt:     now,
		lastAccessed: now,
		accessCount:  1,
	}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.sizeBytes += sizeBytes

	c.logger.Debug("model reserved in cache",
		zap.String("key", key.String()),
		zap.Int64("size_bytes", sizeBytes),
		zap.Int64("cache_bytes", c.sizeBytes))
	return false, evicted, nil
}

// Contains reports whether a model is cached and not expired, without
// bumping its recency.
func (c *Cache) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.expired(e, time.Now()) {
		c.remove(e)
		return false
	}
	return true
}

// Remove drops a model from the index, returning whether it was present.
func (c *Cache) Remove(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(e)
	return true
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns current occupancy and hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:      len(c.entries),
		SizeBytes:    c.sizeBytes,
		MaxSizeBytes: c.maxSizeBytes,
		Hits:         c.hits,
		Misses:       c.misses,
	}
	if c.maxSizeBytes > 0 {
		s.Utilization = float64(c.sizeBytes) / float64(c.maxSizeBytes)
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.cachedAt) > c.ttl
}

// remove must be called with the lock held.
func (c *Cache) remove(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
	c.sizeBytes -= e.sizeBytes
}
