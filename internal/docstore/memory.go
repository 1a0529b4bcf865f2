package docstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a process-local Store for development and tests.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]map[string]any
	hub    *Hub
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]any), hub: NewHub()}
}

// Watchers returns the number of open subscriptions.
func (m *Memory) Watchers() int { return m.hub.Len() }

func (m *Memory) Get(ctx context.Context, path string) (Doc, error) {
	if err := CheckDoc(path); err != nil {
		return Doc{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Doc{}, fmt.Errorf("%w: closed", ErrUnavailable)
	}
	fields, ok := m.docs[path]
	if !ok {
		return Doc{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return Doc{ID: Base(path), Path: path, Fields: Clone(fields)}, nil
}

func (m *Memory) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if err := CheckDoc(path); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: closed", ErrUnavailable)
	}
	cur, ok := m.docs[path]
	if !merge || !ok {
		cur = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		cur[k] = cloneValue(v)
	}
	m.docs[path] = cur
	m.mu.Unlock()

	m.hub.Notify(path)
	return nil
}

func (m *Memory) Update(ctx context.Context, path string, updates []FieldUpdate) error {
	if err := CheckDoc(path); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: closed", ErrUnavailable)
	}
	cur, ok := m.docs[path]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	next, err := ApplyUpdates(cur, updates)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.docs[path] = next
	m.mu.Unlock()

	m.hub.Notify(path)
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := CheckDoc(path); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: closed", ErrUnavailable)
	}
	_, existed := m.docs[path]
	delete(m.docs, path)
	m.mu.Unlock()

	if existed {
		m.hub.Notify(path)
	}
	return nil
}

func (m *Memory) Scan(ctx context.Context, collection, orderBy string) ([]Doc, error) {
	if err := CheckCollection(collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("%w: closed", ErrUnavailable)
	}
	return m.scanLocked(collection, orderBy), nil
}

func (m *Memory) scanLocked(collection, orderBy string) []Doc {
	var out []Doc
	for p, fields := range m.docs {
		if Parent(p) == collection {
			out = append(out, Doc{ID: Base(p), Path: p, Fields: Clone(fields)})
		}
	}
	SortDocs(out, orderBy)
	return out
}

func (m *Memory) Subscribe(ctx context.Context, path string) (<-chan Snapshot, error) {
	if _, err := split(path); err != nil {
		return nil, err
	}
	doc := IsDoc(path)
	return m.hub.Watch(ctx, path, func(context.Context) Snapshot {
		m.mu.RLock()
		defer m.mu.RUnlock()
		snap := Snapshot{Path: path}
		if doc {
			if fields, ok := m.docs[path]; ok {
				snap.Docs = []Doc{{ID: Base(path), Path: path, Fields: Clone(fields)}}
			}
			return snap
		}
		snap.Docs = m.scanLocked(path, "")
		return snap
	}), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
