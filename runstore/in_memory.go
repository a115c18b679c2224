package runstore

import (
	"errors"
	"sort"
	"sync"

	"github.com/hupe1980/segmesh/core"
)

// ErrNotFound is returned when no run is stored under the requested id.
var ErrNotFound = errors.New("run not found")

// InMemoryStore is a volatile RunStore storing runs in a process local map.
// It is safe for concurrent access. Every returned run is a snapshot so
// callers cannot mutate stored state.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*core.AgentRun
}

var _ core.RunStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]*core.AgentRun)}
}

// Put stores run under its id, replacing any previous entry.
func (s *InMemoryStore) Put(run *core.AgentRun) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run

	return nil
}

// Get returns a snapshot of the run stored under id.
func (s *InMemoryStore) Get(id string) (*core.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}

	return run.Snapshot(), nil
}

// Delete removes the run stored under id.
func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return ErrNotFound
	}
	delete(s.runs, id)

	return nil
}

// List returns snapshots of all stored runs, newest first.
func (s *InMemoryStore) List() []*core.AgentRun {
	s.mu.RLock()
	out := make([]*core.AgentRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Snapshot())
	}
	s.mu.RUnlock()

	sortNewestFirst(out)

	return out
}

// Len returns the number of stored runs.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func sortNewestFirst(runs []*core.AgentRun) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}
