package session

import "sync"

var _ Persistence = (*MemoryStore)(nil)

// MemoryStore is a Persistence implementation backed by process memory.
// Useful in tests and for short-lived tooling that has no durable home.
type MemoryStore struct {
	mu   sync.Mutex
	slot *Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot == nil {
		return nil, nil
	}
	s := *m.slot
	return &s, nil
}

func (m *MemoryStore) Save(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = &s
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = nil
	return nil
}
