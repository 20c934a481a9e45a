package store

import (
	"context"
	"sync"

	"wallcal/internal/model"
)

// MemoryStore holds the cache in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	cache model.EventCache
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: empty()}
}

func (s *MemoryStore) Load(_ context.Context) (model.EventCache, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.cache), nil
}

func (s *MemoryStore) Save(_ context.Context, cache model.EventCache) error {
	c := clone(cache)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = c
	s.saves++
	return nil
}

// Saves reports how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryStore) Close() error { return nil }
