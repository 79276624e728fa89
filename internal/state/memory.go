package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps state in process memory. It does not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	keys    *keyLocks
	closed  bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry), keys: newKeyLocks()}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.Value...), nil
}

func (m *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	if err := validKey(key); err != nil {
		return err
	}
	release := m.keys.lock(key)
	defer release()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	var current []byte
	if entry, ok := m.entries[key]; ok {
		current = append([]byte(nil), entry.Value...)
	}
	m.mu.RUnlock()

	next, write, err := applyUpdate(fn, current)
	if err != nil || !write {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if next == nil {
		delete(m.entries, key)
		return nil
	}
	m.entries[key] = Entry{Key: key, Value: append([]byte(nil), next...), UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Entry
	for key, entry := range m.entries {
		if strings.HasPrefix(key, prefix) {
			entry.Value = append([]byte(nil), entry.Value...)
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var removed int64
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
