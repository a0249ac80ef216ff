package memory

import (
	"context"
	"sync"

	"github.com/FTacke/hispanistica-games-sub000/internal/backend/local"
)

// RunStore is an in-memory implementation of local.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]local.RunSnapshot
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]local.RunSnapshot),
	}
}

func (s *RunStore) Load(_ context.Context, key string) (local.RunSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.runs[key]
	return snap, ok, nil
}

func (s *RunStore) Save(_ context.Context, key string, snap local.RunSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[key] = snap
	return nil
}

func (s *RunStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, key)
	return nil
}
