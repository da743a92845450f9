package storage

import (
	"context"
	"sync"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// MemoryStore keeps runs for the lifetime of the process
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*types.SearchResult
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*types.SearchResult)}
}

func (s *MemoryStore) Save(_ context.Context, run *types.SearchResult) error {
	if run == nil || run.ID == "" {
		return ErrNoID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *run
	s.runs[run.ID] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*types.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *run
	return &c, nil
}

func (s *MemoryStore) List(_ context.Context) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, Summarize(run))
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return ErrNotFound
	}
	delete(s.runs, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
