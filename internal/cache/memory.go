package cache

import (
	"container/list"
	"context"
	"sync"
)

// MemoryStore is an in-process LRU of embedding results.
type MemoryStore struct {
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
	hits     int64
	misses   int64
	mu       sync.Mutex
}

type memoryEntry struct {
	key   string
	value [][][]float32
}

// NewMemoryStore creates a store holding at most capacity sentences.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached layers for key if present.
func (m *MemoryStore) Get(ctx context.Context, key string) ([][][]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		m.lru.MoveToFront(elem)
		m.hits++
		return elem.Value.(*memoryEntry).value, true, nil
	}
	m.misses++
	return nil, false, nil
}

// Set stores layers for key, evicting the least recently used entry at capacity.
func (m *MemoryStore) Set(ctx context.Context, key string, value [][][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		m.lru.MoveToFront(elem)
		elem.Value.(*memoryEntry).value = value
		return nil
	}

	m.entries[key] = m.lru.PushFront(&memoryEntry{key: key, value: value})

	if m.lru.Len() > m.capacity {
		if oldest := m.lru.Back(); oldest != nil {
			m.lru.Remove(oldest)
			delete(m.entries, oldest.Value.(*memoryEntry).key)
		}
	}
	return nil
}

// Len returns the number of cached sentences.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// Stats returns hit and miss counts and the number of keys.
func (m *MemoryStore) Stats(ctx context.Context) (*CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return &CacheStats{
		Hits:      m.hits,
		Misses:    m.misses,
		HitRate:   hitRate(m.hits, m.misses),
		TotalKeys: int64(m.lru.Len()),
	}, nil
}

// Clear drops every entry.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*list.Element)
	m.lru.Init()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
