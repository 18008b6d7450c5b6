package cryptox

import "sync"

// KeyStore holds raw symmetric key material addressed by key ID. It is an
// explicit, injectable registry rather than a package-level map so that
// eviction and persistence policy stay testable.
//
// Implementations must be safe for concurrent use.
type KeyStore interface {
	Get(id string) ([]byte, bool)
	Put(id string, key []byte)
}

// MemoryKeyStore is the default in-process KeyStore.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string][]byte)}
}

func (s *MemoryKeyStore) Get(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	return k, ok
}

func (s *MemoryKeyStore) Put(id string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = key
}
