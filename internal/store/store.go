// Package store persists the EventCache blob. Every implementation writes
// atomically: a reader sees either the previous or the new cache, never a
// mix.
package store

import (
	"context"
	"fmt"
	"path/filepath"

	"wallcal/internal/model"
)

// Store is a get/set of the EventCache.
type Store interface {
	// Load returns the last saved cache, or an empty cache (nil Range) when
	// nothing was saved yet.
	Load(ctx context.Context) (model.EventCache, error)
	Save(ctx context.Context, cache model.EventCache) error
	Close() error
}

// Options selects and locates a store.
type Options struct {
	// Driver is one of "file" (default), "sqlite", "redis", "memory".
	Driver string
	// Path overrides the file or sqlite location under DataDir.
	Path      string
	DataDir   string
	RedisAddr string
	RedisKey  string
}

// Open builds the store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	path := opts.Path
	switch opts.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if path == "" {
			path = filepath.Join(opts.DataDir, "events.db")
		}
		return OpenSQLite(ctx, path)
	case "redis":
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisKey)
	case "file", "":
		if path == "" {
			path = filepath.Join(opts.DataDir, "events.json")
		}
		return NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", opts.Driver)
	}
}

func empty() model.EventCache {
	return model.EventCache{Events: []model.Event{}}
}

// clone copies the cache so callers cannot alias stored state.
func clone(c model.EventCache) model.EventCache {
	out := model.EventCache{Events: append([]model.Event{}, c.Events...)}
	if c.UpdatedAt != nil {
		t := *c.UpdatedAt
		out.UpdatedAt = &t
	}
	if c.Range != nil {
		r := *c.Range
		out.Range = &r
	}
	return out
}
