// Package dataloader provides caching in front of slow sample sources.
package dataloader

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/samuelsimko/scaling-mlps/tensor"
	"github.com/samuelsimko/scaling-mlps/training"
)

// CacheManager is an LRU cache of decoded samples keyed by dataset index
type CacheManager struct {
	mu          sync.Mutex
	cache       map[int]cacheEntry
	lru         *list.List
	lruMap      map[int]*list.Element
	maxSize     int
	currentSize int

	// Statistics
	hits   int64
	misses int64
}

type cacheEntry struct {
	data  *tensor.Tensor
	label int32
}

// NewCacheManager creates a cache holding at most maxSize samples
func NewCacheManager(maxSize int) *CacheManager {
	return &CacheManager{
		cache:   make(map[int]cacheEntry),
		lru:     list.New(),
		lruMap:  make(map[int]*list.Element),
		maxSize: maxSize,
	}
}

// Get retrieves a sample from the cache
func (cm *CacheManager) Get(key int) (*tensor.Tensor, int32, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if entry, exists := cm.cache[key]; exists {
		// Move to front (most recently used)
		if elem, ok := cm.lruMap[key]; ok {
			cm.lru.MoveToFront(elem)
		}
		cm.hits++
		return entry.data, entry.label, true
	}

	cm.misses++
	return nil, 0, false
}

// Put adds a sample to the cache
func (cm *CacheManager) Put(key int, data *tensor.Tensor, label int32) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.maxSize <= 0 {
		return
	}

	if _, exists := cm.cache[key]; exists {
		if elem, ok := cm.lruMap[key]; ok {
			cm.lru.MoveToFront(elem)
		}
		return
	}

	elem := cm.lru.PushFront(key)
	cm.lruMap[key] = elem
	cm.cache[key] = cacheEntry{data: data, label: label}
	cm.currentSize++

	// Evict if necessary
	for cm.currentSize > cm.maxSize && cm.lru.Len() > 0 {
		cm.removeElement(cm.lru.Back())
	}
}

// removeElement removes an element from the cache
func (cm *CacheManager) removeElement(elem *list.Element) {
	key := elem.Value.(int)
	cm.lru.Remove(elem)
	delete(cm.lruMap, key)
	delete(cm.cache, key)
	cm.currentSize--
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	return CacheStats{
		Size:    cm.currentSize,
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
		HitRate: cm.calculateHitRate(),
	}
}

// calculateHitRate calculates the hit rate percentage
func (cm *CacheManager) calculateHitRate() float64 {
	total := cm.hits + cm.misses
	if total == 0 {
		return 0
	}
	return float64(cm.hits) / float64(total) * 100
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}

// CachedDataset serves repeated reads of a dataset from a CacheManager.
// Cached tensors are shared; callers must not modify them.
type CachedDataset struct {
	source training.Dataset
	cache  *CacheManager
}

// NewCachedDataset wraps source with cache
func NewCachedDataset(source training.Dataset, cache *CacheManager) *CachedDataset {
	return &CachedDataset{source: source, cache: cache}
}

// Len returns the number of samples in the underlying dataset
func (d *CachedDataset) Len() int {
	return d.source.Len()
}

// Get returns the sample at idx, reading through to the source on a miss
func (d *CachedDataset) Get(idx int) (*tensor.Tensor, int32, error) {
	if data, label, ok := d.cache.Get(idx); ok {
		return data, label, nil
	}
	data, label, err := d.source.Get(idx)
	if err != nil {
		return nil, 0, err
	}
	d.cache.Put(idx, data, label)
	return data, label, nil
}

// Stats returns the statistics of the underlying cache
func (d *CachedDataset) Stats() CacheStats {
	return d.cache.Stats()
}
