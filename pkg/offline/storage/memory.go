package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Storage. Entries are cloned on the way in and out
// so callers never share buffers with the store.
type Memory struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
	order      []string
	closed     bool
}

// NewMemory creates an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{partitions: make(map[string]*memoryPartition)}
}

// Open implements Storage.
func (m *Memory) Open(_ context.Context, name string) (Partition, error) {
	if err := validatePartitionName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if p, ok := m.partitions[name]; ok {
		return p, nil
	}
	p := &memoryPartition{name: name, entries: make(map[string]*Entry)}
	m.partitions[name] = p
	m.order = append(m.order, name)
	return p, nil
}

// Lookup implements Storage.
func (m *Memory) Lookup(_ context.Context, name string) (Partition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	p, ok := m.partitions[name]
	if !ok {
		return nil, ErrNoPartition
	}
	return p, nil
}

// Has implements Storage.
func (m *Memory) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.partitions[name]
	return ok, nil
}

// Delete implements Storage.
func (m *Memory) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}
	p, ok := m.partitions[name]
	if !ok {
		return false, nil
	}
	p.mu.Lock()
	p.deleted = true
	p.entries = make(map[string]*Entry)
	p.mu.Unlock()
	delete(m.partitions, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Names implements Storage.
func (m *Memory) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	return append([]string(nil), m.order...), nil
}

// Match implements Storage.
func (m *Memory) Match(ctx context.Context, key string) (*Entry, error) {
	return matchAll(ctx, m, key)
}

// Close implements Storage.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.partitions = nil
	m.order = nil
	return nil
}

type memoryPartition struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*Entry
	deleted bool
}

func (p *memoryPartition) Name() string { return p.name }

func (p *memoryPartition) Match(_ context.Context, key string) (*Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (p *memoryPartition) Put(_ context.Context, key string, entry *Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return errPartitionGone
	}
	p.entries[key] = entry.Clone()
	return nil
}

func (p *memoryPartition) Delete(_ context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[key]; !ok {
		return false, nil
	}
	delete(p.entries, key)
	return true, nil
}

func (p *memoryPartition) Keys(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sortByCachedAt(keys, func(k string) *Entry { return p.entries[k] })
	return keys, nil
}

// sortByCachedAt orders keys oldest first, breaking ties by key.
func sortByCachedAt(keys []string, lookup func(string) *Entry) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := lookup(keys[i]).CachedAt, lookup(keys[j]).CachedAt
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})
}
