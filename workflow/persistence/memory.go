package persistence

import (
	"context"
	"sync"

	"github.com/BaSui01/flowcanvas/workflow"
)

// MemoryStore keeps workflows in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.CompiledWorkflow
	closed    bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[string]*workflow.CompiledWorkflow)}
}

// Save stores a copy of w, replacing any workflow with the same id.
func (s *MemoryStore) Save(_ context.Context, w *workflow.CompiledWorkflow) error {
	if err := checkWorkflow(w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.workflows[w.ID] = w.Clone()
	return nil
}

// Load returns a copy of the stored workflow.
func (s *MemoryStore) Load(_ context.Context, id string) (*workflow.CompiledWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	w, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return w.Clone(), nil
}

// List returns every workflow ordered by id.
func (s *MemoryStore) List(_ context.Context) ([]*workflow.CompiledWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*workflow.CompiledWorkflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w.Clone())
	}
	sortByID(out)
	return out, nil
}

// Delete removes a workflow.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(s.workflows, id)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.workflows = nil
	return nil
}
