package ics

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOneConditionalGet(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{CacheDir: t.TempDir(), Client: srv.Client()})
	src := Source{ID: "a", URL: srv.URL + "/a.ics"}

	first, err := f.FetchOne(t.Context(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.FetchOne(t.Context(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchOneFallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{CacheDir: t.TempDir(), Client: srv.Client()})
	src := Source{ID: "a", URL: srv.URL}

	_, err := f.FetchOne(t.Context(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(t.Context(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
}

func TestFetchOneCircuitOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Client:           srv.Client(),
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
	})
	src := Source{ID: "a", URL: srv.URL}

	for i := 0; i < 2; i++ {
		_, err := f.FetchOne(t.Context(), src)
		require.Error(t, err)
	}
	_, err := f.FetchOne(t.Context(), src)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchOneRequiresURL(t *testing.T) {
	_, err := NewFetcher(FetcherOptions{}).FetchOne(t.Context(), Source{})
	assert.Error(t, err)
}
