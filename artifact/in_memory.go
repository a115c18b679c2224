package artifact

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/segmesh/core"
)

// InMemoryStore is a trivial in-process ArtifactStore useful for tests,
// examples and single-process deployments. Data is copied on save and
// retrieval to avoid accidental external mutation of internal buffers.
//
// Layout: runID -> name -> raw bytes
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][]byte
}

var (
	_ core.ArtifactStore = (*InMemoryStore)(nil)
	_ core.ImageLoader   = (*InMemoryStore)(nil)
)

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string][]byte)}
}

// Save stores (or overwrites) the bytes for the given run and name.
func (a *InMemoryStore) Save(_ context.Context, runID, name string, data []byte) (string, error) {
	if err := checkSegment(runID); err != nil {
		return "", err
	}
	if err := checkSegment(name); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.artifacts[runID]; !exists {
		a.artifacts[runID] = make(map[string][]byte)
	}
	a.artifacts[runID][name] = append([]byte(nil), data...)

	return Key(runID, name), nil
}

// Get returns a copy of the stored bytes or ErrNotFound.
func (a *InMemoryStore) Get(_ context.Context, runID, name string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.artifacts[runID]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := m[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// List returns the sorted artifact names stored for the run.
func (a *InMemoryStore) List(_ context.Context, runID string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.artifacts[runID]
	if !ok {
		return []string{}, nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the artifact if present or returns ErrNotFound.
func (a *InMemoryStore) Delete(_ context.Context, runID, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.artifacts[runID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[name]; !ok {
		return ErrNotFound
	}
	delete(m, name)
	return nil
}

// LoadImage resolves a key of the form "<scope>/<name>".
func (a *InMemoryStore) LoadImage(ctx context.Context, ref core.ImageRef) ([]byte, error) {
	runID, name, err := SplitKey(ref.Key)
	if err != nil {
		return nil, err
	}
	return a.Get(ctx, runID, name)
}
