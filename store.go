package beacon

import (
	"sync"

	"github.com/beaconhq/beacon-go/adapters"
)

// SafeStore wraps a StorageAdapter with the never-fail guarantee the
// pipeline relies on: once the backing adapter errors, the affected key
// is served from an in-memory shadow map, so Get/Set/Remove always
// succeed from the caller's point of view. Shadowed values do not
// survive the process, which is the accepted degradation.
type SafeStore struct {
	adapter adapters.StorageAdapter
	logger  adapters.LoggerAdapter

	mu     sync.Mutex
	shadow map[string]string
}

// NewSafeStore wraps adapter. A nil adapter yields a pure in-memory
// store.
func NewSafeStore(adapter adapters.StorageAdapter, logger adapters.LoggerAdapter) *SafeStore {
	if adapter == nil {
		adapter = adapters.NewMemoryStorageAdapter()
	}
	if logger == nil {
		logger = adapters.NewNoOpLoggerAdapter()
	}
	return &SafeStore{
		adapter: adapter,
		logger:  logger,
		shadow:  make(map[string]string),
	}
}

// Get returns the value under key, preferring the shadow copy when the
// backing adapter has failed for this key.
func (s *SafeStore) Get(key string) string {
	s.mu.Lock()
	if value, ok := s.shadow[key]; ok {
		s.mu.Unlock()
		return value
	}
	s.mu.Unlock()

	value, err := s.adapter.Get(key)
	if err != nil {
		s.logger.Warn("storage get failed for %q: %v", key, err)
		return ""
	}
	return value
}

// Set stores value under key. On adapter failure the value is kept in
// the shadow map instead.
func (s *SafeStore) Set(key, value string) {
	if err := s.adapter.Set(key, value); err != nil {
		s.logger.Warn("storage set failed for %q, using memory fallback: %v", key, err)
		s.mu.Lock()
		s.shadow[key] = value
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	delete(s.shadow, key)
	s.mu.Unlock()
}

// Remove deletes key from both the adapter and the shadow map.
func (s *SafeStore) Remove(key string) {
	s.mu.Lock()
	delete(s.shadow, key)
	s.mu.Unlock()

	if err := s.adapter.Remove(key); err != nil {
		s.logger.Warn("storage remove failed for %q: %v", key, err)
	}
}
