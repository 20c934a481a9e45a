package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallcal/internal/model"
)

func sampleCache() model.EventCache {
	updated := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	return model.EventCache{
		UpdatedAt: &updated,
		Range: &model.Range{
			TimeMin: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			TimeMax: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		Events: []model.Event{{
			ID:         "ical:https://example.com/a.ics:standup",
			CalendarID: "https://example.com/a.ics",
			Summary:    "Standup",
			Start:      start,
			End:        start.Add(30 * time.Minute),
			Status:     model.StatusConfirmed,
		}},
	}
}

func assertSameCache(t *testing.T, want, got model.EventCache) {
	t.Helper()
	require.NotNil(t, got.UpdatedAt)
	require.NotNil(t, got.Range)
	assert.True(t, want.UpdatedAt.Equal(*got.UpdatedAt))
	assert.True(t, want.Range.TimeMin.Equal(got.Range.TimeMin))
	assert.True(t, want.Range.TimeMax.Equal(got.Range.TimeMax))
	require.Len(t, got.Events, len(want.Events))
	for i := range want.Events {
		assert.Equal(t, want.Events[i].ID, got.Events[i].ID)
		assert.Equal(t, want.Events[i].Summary, got.Events[i].Summary)
		assert.True(t, want.Events[i].Start.Equal(got.Events[i].Start))
		assert.True(t, want.Events[i].End.Equal(got.Events[i].End))
	}
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.Range, "fresh store has no coverage")
	assert.NotNil(t, got.Events)

	want := sampleCache()
	require.NoError(t, s.Save(ctx, want))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assertSameCache(t, want, got)

	// A second save replaces the first wholesale.
	next := sampleCache()
	next.Events = nil
	require.NoError(t, s.Save(ctx, next))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Events)
}

func TestFileStore(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "data", "events.json"))
	exerciseStore(t, s)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, 2, s.Saves())
}

func TestMemoryStoreDoesNotAlias(t *testing.T) {
	s := NewMemoryStore()
	c := sampleCache()
	require.NoError(t, s.Save(context.Background(), c))

	c.Events[0].Summary = "mutated"
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Standup", got.Events[0].Summary)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("WALLCAL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WALLCAL_TEST_REDIS_ADDR not set")
	}
	s, err := OpenRedis(context.Background(), addr, "wallcal:test:"+t.Name())
	require.NoError(t, err)
	defer s.Close()
	defer s.client.Del(context.Background(), s.key)
	exerciseStore(t, s)
}

func TestOpenSelectsDriver(t *testing.T) {
	opts := Options{DataDir: t.TempDir()}

	opts.Driver = "memory"
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	opts.Driver = "file"
	s, err = Open(context.Background(), opts)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	opts.Driver = "sqlite"
	s, err = Open(context.Background(), opts)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	opts.Driver = "cassandra"
	_, err = Open(context.Background(), opts)
	assert.Error(t, err)
}
