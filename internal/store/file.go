package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"wallcal/internal/fsutil"
	"wallcal/internal/model"
)

// FileStore keeps the cache as one JSON document, replaced by
// temp file + rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (model.EventCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return empty(), nil
	}
	if err != nil {
		return model.EventCache{}, err
	}

	var cache model.EventCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return model.EventCache{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if cache.Events == nil {
		cache.Events = []model.Event{}
	}
	return cache, nil
}

func (s *FileStore) Save(_ context.Context, cache model.EventCache) error {
	data, err := json.MarshalIndent(&cache, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fsutil.WriteFileAtomic(s.path, data, ".wallcal-events-*.tmp")
}

func (s *FileStore) Close() error { return nil }
