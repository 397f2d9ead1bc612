package settings

import "sync"

// InMemoryStore is an in-memory implementation of Store for testing.
type InMemoryStore struct {
	mu       sync.RWMutex
	settings Settings
	saved    bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// NewInMemoryStoreWith creates an in-memory store pre-seeded with settings.
func NewInMemoryStoreWith(s Settings) *InMemoryStore {
	return &InMemoryStore{settings: s, saved: true}
}

// Load returns the stored settings, or Defaults() and ErrNotFound when
// nothing has been saved.
func (m *InMemoryStore) Load() (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.saved {
		return Defaults(), ErrNotFound
	}
	return m.settings, nil
}

// Save stores the settings snapshot.
func (m *InMemoryStore) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = s
	m.saved = true
	return nil
}
