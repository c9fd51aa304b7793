package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the degraded-mode tier behind the failover wrapper.
// Entries expire lazily on read.
type MemoryStore struct {
	entries sync.Map
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok := m.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := val.(memoryEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.entries.Delete(key)
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{data: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.entries.Store(key, entry)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}
