package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Entry
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Entry),
		now:   time.Now,
	}
}

// Get returns a copy of the fresh entry stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.items[key]
	if !ok || !e.Fresh(m.now()) {
		return nil, false, nil
	}
	out := *e
	out.Value = append([]byte(nil), e.Value...)
	return &out, true, nil
}

// Set stores a copy of value.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = &Entry{
		Key:      key,
		Value:    append([]byte(nil), value...),
		StoredAt: m.now(),
		TTL:      ttl,
	}
	return nil
}

func (m *MemoryStore) HasFresh(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[key]
	return ok && e.Fresh(m.now()), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*Entry)
	return nil
}

// Len returns the number of stored entries, fresh or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryStore) Close() error { return nil }
