package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"wallcal/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS event_cache (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	payload    TEXT    NOT NULL,
	updated_at TEXT    NOT NULL
)`

// SQLiteStore keeps the cache in a single row, replaced by one upsert.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// - journal_mode=WAL: readers do not block the writer
	// - busy_timeout=5000: wait on lock instead of failing immediately
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite doesn't support multiple writers, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (model.EventCache, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM event_cache WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return empty(), nil
	}
	if err != nil {
		return model.EventCache{}, err
	}

	var cache model.EventCache
	if err := json.Unmarshal([]byte(payload), &cache); err != nil {
		return model.EventCache{}, fmt.Errorf("decode event cache row: %w", err)
	}
	if cache.Events == nil {
		cache.Events = []model.Event{}
	}
	return cache, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cache model.EventCache) error {
	data, err := json.Marshal(&cache)
	if err != nil {
		return err
	}
	updated := time.Now().UTC()
	if cache.UpdatedAt != nil {
		updated = cache.UpdatedAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO event_cache (id, payload, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(data), updated.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
