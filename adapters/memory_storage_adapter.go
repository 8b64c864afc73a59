package adapters

import "sync"

// MemoryStorageAdapter keeps values in a process-local map. It is the
// default for tests and the shadow store behind the never-fail facade.
type MemoryStorageAdapter struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ StorageAdapter = (*MemoryStorageAdapter)(nil)

// NewMemoryStorageAdapter creates an empty in-memory store.
func NewMemoryStorageAdapter() *MemoryStorageAdapter {
	return &MemoryStorageAdapter{values: make(map[string]string)}
}

// Get returns the stored value, or "" if the key is absent.
func (m *MemoryStorageAdapter) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

// Set stores value under key.
func (m *MemoryStorageAdapter) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Remove deletes key.
func (m *MemoryStorageAdapter) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
