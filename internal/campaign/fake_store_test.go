package campaign

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same atomic Mutate contract as the bolt store
type memStore struct {
	mu   sync.Mutex
	docs map[string]*Campaign
	err  error
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]*Campaign)}
}

func (m *memStore) Create(ctx context.Context, c *Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.docs[c.ID] = c.Clone()
	return nil
}

func (m *memStore) Get(ctx context.Context, ownerID, id string) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.docs[id]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *memStore) Locate(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	c, ok := m.docs[id]
	if !ok {
		return "", ErrNotFound
	}
	return c.OwnerID, nil
}

func (m *memStore) List(ctx context.Context, ownerID string, filter ListFilter) ([]*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Campaign
	for _, c := range m.docs {
		if c.OwnerID != ownerID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Mutate(ctx context.Context, ownerID, id string, fn MutateFunc) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.docs[id]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	next := c.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	m.docs[id] = next
	return next.Clone(), nil
}

func (m *memStore) Delete(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.docs[id]
	if !ok || c.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return m.err }

func (m *memStore) Close() error { return nil }

// conflictStore makes the first failures Mutate calls lose the race
type conflictStore struct {
	*memStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *conflictStore) Mutate(ctx context.Context, ownerID, id string, fn MutateFunc) (*Campaign, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return nil, ErrConflict
	}
	return s.memStore.Mutate(ctx, ownerID, id, fn)
}
