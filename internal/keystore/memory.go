package keystore

import (
	"sync"

	crederrors "github.com/systmms/credops/internal/errors"
)

// MemoryStore is an in-memory Store for tests and headless environments
// with no Secret Service available.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[string]string
	failAll bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// FailAll makes every operation report the store as unavailable. For tests.
func (m *MemoryStore) FailAll(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

// Set stores a secret value.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return crederrors.SecretStoreUnavailableError{Op: "set"}
	}
	m.values[key] = value
	return nil
}

// Get retrieves a secret value.
func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failAll {
		return "", crederrors.SecretStoreUnavailableError{Op: "get"}
	}
	value, ok := m.values[key]
	if !ok {
		return "", crederrors.SecretNotFoundError{Key: key}
	}
	return value, nil
}

// Delete removes a secret value.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return crederrors.SecretStoreUnavailableError{Op: "delete"}
	}
	if _, ok := m.values[key]; !ok {
		return crederrors.SecretNotFoundError{Key: key}
	}
	delete(m.values, key)
	return nil
}
