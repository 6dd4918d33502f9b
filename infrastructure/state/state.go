// Package state defines the PersistenceBackend contract that checkpoint
// and run-state storage is built on, plus an in-memory implementation used
// by tests and by any caller that doesn't need durability across process
// restarts.
package state

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by a PersistenceBackend's Load when key isn't
// present.
var ErrNotFound = errors.New("key not found")

// PersistenceBackend is the storage contract both the checkpoint store and
// the run-state store are built against, so either can be pointed at an
// in-memory backend in tests or a file-backed one in production without
// changing caller code.
type PersistenceBackend interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close(ctx context.Context) error
}

// MemoryBackend is a PersistenceBackend that keeps everything in a map,
// with no actual cleanup work beyond what its constructor's interval
// implies — data simply lives until Close. It exists for tests and for
// callers that explicitly don't want on-disk state.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
	done chan struct{}
}

// NewMemoryBackend builds an empty MemoryBackend. cleanupInterval is kept
// for API parity with a durable backend's retention policy; a memory
// backend has nothing to sweep, so a zero interval is the common case.
func NewMemoryBackend(cleanupInterval time.Duration) *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
		done: make(chan struct{}),
	}
}

func (m *MemoryBackend) Save(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *MemoryBackend) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) Close(ctx context.Context) error {
	close(m.done)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}
