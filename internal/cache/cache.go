// Package cache implements the two-tier (memory + disk) byte-buffer
// cache that sits in front of tile synthesis, plus the request-coalescing
// layer that guarantees at most one concurrent build per cache key. The
// memory tier is a bounded LRU (hashicorp/golang-lru); its internal lock
// and the byte-accounting mutex below guard in-memory bookkeeping only and
// are never held across disk I/O or a build;
// coalescing is golang.org/x/sync/singleflight, giving every concurrent
// waiter on a key the same result as the one in-flight build.
package cache

import (
	"context"
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/xearthlayer/xearthlayer/internal/metrics"
)

// Key identifies one cached DDS buffer.
type Key struct {
	ProviderTag string
	TileRow     uint32
	TileCol     uint32
	TileZoom    uint8
	DDSFormat   string
}

// String renders the key as the disk-tier relative path, minus root.
func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d/%d_%s", k.ProviderTag, k.TileZoom, k.TileRow, k.TileCol, k.DDSFormat)
}

// ErrorKind classifies a cache-tier failure.
type ErrorKind int

const (
	KindMiss ErrorKind = iota
	KindIO
	KindCorrupt
)

// Error wraps a cache failure with its tier-specific kind.
type Error struct {
	Kind ErrorKind
	Key  Key
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache: %s (%v): %v", e.Key, e.Kind, e.err)
}
func (e *Error) Unwrap() error { return e.err }

// Builder produces the bytes for a cache miss. It is invoked at most once
// per key at any instant — concurrent Get calls for the same key that
// miss all share the single Builder invocation's result.
type Builder func(ctx context.Context, key Key) ([]byte, error)

// Entry is an immutable, reference-counted (by Go's GC, not manually) byte
// buffer shared across tiers and callers. Cache hits never copy it.
type Entry struct {
	Bytes []byte
}

func (e *Entry) size() int64 { return int64(len(e.Bytes)) }

// Cache is the two-tier cache: a bounded in-memory LRU backed by a disk
// tier, with singleflight coalescing across both.
type Cache struct {
	memory *lru.Cache[Key, *Entry]
	disk    *diskTier
	group   singleflight.Group

	memoryBudget int64

	// memoryBytesMu guards memoryBytes. Put and hydrateMemory run on
	// arbitrary goroutines concurrently for different keys (singleflight
	// only coalesces same-key builds), and the evict callback below is
	// invoked synchronously from inside memory.Add/RemoveOldest, so every
	// touch point has to go through the same lock to keep the budget
	// check in evictForBudget reading a consistent value.
	memoryBytesMu sync.Mutex
	memoryBytes   int64

	metrics *metrics.Metrics
}

// SetMetrics attaches m so subsequent Get calls record per-tier hit/miss
// counts and the resident memory-tier byte gauge. Passing nil (the zero
// value) disables reporting; safe to call before any Get.
func (c *Cache) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// New constructs a Cache whose memory tier holds at most maxEntries
// distinct keys and memoryBudgetBytes total bytes, backed by a disk tier
// rooted at diskRoot.
func New(maxEntries int, memoryBudgetBytes int64, diskRoot string) (*Cache, error) {
	c := &Cache{memoryBudget: memoryBudgetBytes}

	// onEvict fires synchronously from inside memory.Add/RemoveOldest,
	// which Put/hydrateMemory/evictForBudget only ever call while already
	// holding memoryBytesMu, so it must not lock itself.
	onEvict := func(key Key, entry *Entry) {
		c.memoryBytes -= entry.size()
	}

	memCache, err := lru.NewWithEvict(maxEntries, onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: constructing memory tier: %w", err)
	}
	c.memory = memCache

	disk, err := newDiskTier(diskRoot)
	if err != nil {
		return nil, fmt.Errorf("cache: constructing disk tier: %w", err)
	}
	c.disk = disk

	return c, nil
}

// Get returns the cached bytes for key, consulting memory then disk, and
// invoking build on a full miss. At most one build runs per key across
// all concurrent callers; every caller observes the same outcome.
func (c *Cache) Get(ctx context.Context, key Key, build Builder) ([]byte, error) {
	if entry, ok := c.memory.Get(key); ok {
		c.recordHit("memory")
		return entry.Bytes, nil
	}
	c.recordMiss("memory")

	groupKey := key.String()
	value, err, _ := c.group.Do(groupKey, func() (any, error) {
		if data, diskErr := c.disk.read(key); diskErr == nil {
			c.recordHit("disk")
			c.hydrateMemory(key, data)
			return data, nil
		} else if !isMiss(diskErr) {
			// Corrupt entry: drop it and fall through to rebuild.
			c.disk.delete(key)
		}
		c.recordMiss("disk")

		data, buildErr := build(ctx, key)
		if buildErr != nil {
			return nil, buildErr
		}

		c.Put(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	return value.([]byte), nil
}

func (c *Cache) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues(tier).Inc()
	}
}

func (c *Cache) recordMiss(tier string) {
	if c.metrics != nil {
		c.metrics.CacheMisses.WithLabelValues(tier).Inc()
	}
}

// Put stores data for key in both the memory tier (immediately) and the
// disk tier (scheduled as a background write), evicting older memory
// entries as needed to respect the configured byte budget.
func (c *Cache) Put(key Key, data []byte) {
	entry := &Entry{Bytes: data}

	c.memoryBytesMu.Lock()
	c.evictForBudget(entry.size())
	c.memory.Add(key, entry)
	c.memoryBytes += entry.size()
	c.reportMemoryBytes()
	c.memoryBytesMu.Unlock()

	go func() {
		_ = c.disk.write(key, data)
	}()
}

func (c *Cache) hydrateMemory(key Key, data []byte) {
	entry := &Entry{Bytes: data}

	c.memoryBytesMu.Lock()
	defer c.memoryBytesMu.Unlock()
	c.evictForBudget(entry.size())
	c.memory.Add(key, entry)
	c.memoryBytes += entry.size()
	c.reportMemoryBytes()
}

// evictForBudget must be called with memoryBytesMu held.
func (c *Cache) evictForBudget(incoming int64) {
	for c.memoryBudget > 0 && c.memoryBytes+incoming > c.memoryBudget && c.memory.Len() > 0 {
		c.memory.RemoveOldest()
	}
}

// reportMemoryBytes must be called with memoryBytesMu held.
func (c *Cache) reportMemoryBytes() {
	if c.metrics != nil {
		c.metrics.MemoryBytes.Set(float64(c.memoryBytes))
	}
}

// MemoryBytes reports the memory tier's current resident byte total.
func (c *Cache) MemoryBytes() int64 {
	c.memoryBytesMu.Lock()
	defer c.memoryBytesMu.Unlock()
	return c.memoryBytes
}

// MemoryLen reports the memory tier's current entry count.
func (c *Cache) MemoryLen() int { return c.memory.Len() }

// ContainsMemory reports whether key is resident in the memory tier,
// without promoting it in the LRU — the prefetch coordinator's four-tier
// filter uses this to skip candidates already hot, without disturbing
// eviction order the way Get's lookup would.
func (c *Cache) ContainsMemory(key Key) bool {
	return c.memory.Contains(key)
}

// ExistsOnDisk reports whether key has a cached file on the disk tier,
// the fourth tier of the prefetch coordinator's availability filter.
func (c *Cache) ExistsOnDisk(key Key) bool {
	_, err := os.Stat(c.disk.path(key))
	return err == nil
}

func isMiss(err error) bool {
	var cacheErr *Error
	if e, ok := err.(*Error); ok {
		cacheErr = e
	}
	return cacheErr != nil && cacheErr.Kind == KindMiss
}
