package store

import (
	"context"
	"sort"
	"sync"

	"magnetar/pkg/idgen"
)

// MemoryStore keeps every document in process memory. It backs the tests
// and the "memory" store driver for local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string][]byte
	children map[string]map[string]struct{}
	hub      *hub
	keys     func() string
	closed   bool
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := options{keys: idgen.PushKey}
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		docs:     make(map[string][]byte),
		children: make(map[string]map[string]struct{}),
		hub:      newHub(),
		keys:     o.keys,
	}
}

func (m *MemoryStore) Get(ctx context.Context, path string) (Snapshot, error) {
	p, err := CleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	return NewSnapshot(p, m.docs[p]), nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, value interface{}) error {
	if value == nil {
		return m.Delete(ctx, path)
	}
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	b, err := encode(value)
	if err != nil {
		return err
	}
	if isNull(b) {
		return m.Delete(ctx, p)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.put(p, b)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	b, err := merge(m.docs[p], fields)
	if err != nil {
		return err
	}
	m.put(p, b)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.docs[p]; !ok {
		return nil
	}
	delete(m.docs, p)
	parent, key := split(p)
	if set := m.children[parent]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(m.children, parent)
		}
	}
	m.hub.publish(p, NewSnapshot(p, nil))
	return nil
}

func (m *MemoryStore) Push(ctx context.Context, collection string) (string, error) {
	c, err := CleanPath(collection)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return Join(c, m.keys()), nil
}

func (m *MemoryStore) Children(ctx context.Context, collection string) ([]Snapshot, error) {
	c, err := CleanPath(collection)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(m.children[c]))
	for k := range m.children[c] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		p := Join(c, k)
		out = append(out, NewSnapshot(p, m.docs[p]))
	}
	return out, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// the read lock orders the initial snapshot before any later write
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.hub.add(p, NewSnapshot(p, m.docs[p]), fn), nil
}

// Close stops every subscription. Further calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.hub.closeAll()
	return nil
}

// put stores b at p and notifies subscribers. Caller holds m.mu.
func (m *MemoryStore) put(p string, b []byte) {
	m.docs[p] = b
	parent, key := split(p)
	if parent != "" {
		if m.children[parent] == nil {
			m.children[parent] = make(map[string]struct{})
		}
		m.children[parent][key] = struct{}{}
	}
	m.hub.publish(p, NewSnapshot(p, b))
}
