package persist

import (
	"context"
	"sync"
)

// MemoryStore keeps state in process. Used by tests and STATE_BACKEND=memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, name Name, session string, v any) error {
	m.mu.RLock()
	data, ok := m.data[key(name, session)]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return unmarshal(name, data, v)
}

func (m *MemoryStore) Save(_ context.Context, name Name, session string, v any) error {
	data, err := partialize(name, v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key(name, session)] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, name Name, session string) error {
	m.mu.Lock()
	delete(m.data, key(name, session))
	m.mu.Unlock()
	return nil
}

// Len reports how many values are held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
