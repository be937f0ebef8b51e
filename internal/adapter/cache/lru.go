package cache

import (
	"container/list"
	"context"
	"slices"
	"sync"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
)

// MemoryStore is an in-process Store bounded to a number of mapunits.
type MemoryStore struct {
	lru *lruCache
}

// NewMemoryStore creates a Store evicting the least recently used mapunit
// once maxEntries is exceeded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{lru: newLRUCache(maxEntries)}
}

func (s *MemoryStore) GetMany(_ context.Context, keys []domain.MapunitKey) (map[domain.MapunitKey][]domain.ComponentAttributeRecord, error) {
	out := make(map[domain.MapunitKey][]domain.ComponentAttributeRecord, len(keys))
	for _, k := range keys {
		if recs, ok := s.lru.get(k); ok {
			out[k] = slices.Clone(recs)
		}
	}
	return out, nil
}

func (s *MemoryStore) PutMany(_ context.Context, records map[domain.MapunitKey][]domain.ComponentAttributeRecord) error {
	for k, recs := range records {
		s.lru.put(k, slices.Clone(recs))
	}
	return nil
}

// lruCache is a thread-safe LRU of component records by mapunit. The front
// of order is the most recently used entry.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[domain.MapunitKey]*list.Element
	order      *list.List
}

type lruEntry struct {
	key  domain.MapunitKey
	recs []domain.ComponentAttributeRecord
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[domain.MapunitKey]*list.Element),
		order:      list.New(),
	}
}

func (c *lruCache) get(key domain.MapunitKey) ([]domain.ComponentAttributeRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).recs, true
}

func (c *lruCache) put(key domain.MapunitKey, recs []domain.ComponentAttributeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry).recs = recs
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, recs: recs})

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry).key)
	}
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
