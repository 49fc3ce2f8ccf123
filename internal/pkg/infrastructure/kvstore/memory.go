package kvstore

import (
	"context"
	"slices"
	"strings"
	"sync"
)

type memoryStore struct {
	mu    sync.RWMutex
	items map[string]Entry
}

func NewMemoryStore() Store {
	return &memoryStore{items: map[string]Entry{}}
}

func (m *memoryStore) Ready(ctx context.Context) error {
	return nil
}

func (m *memoryStore) GetItem(ctx context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.items[key]
	if !ok {
		return Entry{}, ErrNotFound
	}

	e.Value = slices.Clone(e.Value)
	return e, nil
}

func (m *memoryStore) SetItem(ctx context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Key = key
	entry.Value = slices.Clone(entry.Value)
	m.items[key] = entry

	return nil
}

func (m *memoryStore) RemoveItem(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

func (m *memoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := []string{}
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	slices.Sort(keys)
	return keys, nil
}

func (m *memoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = map[string]Entry{}
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}
