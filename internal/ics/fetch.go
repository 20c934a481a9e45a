package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/sony/gobreaker/v2"

	appLog "wallcal/internal/log"
)

// maxFeedBytes bounds a single feed download.
const maxFeedBytes = 16 << 20

// Source represents a single ICS subscription source.
type Source struct {
	// ID is the stable calendar id; for feeds this is the URL itself.
	ID string
	// URL is the ICS endpoint.
	URL   string
	Label string
	Color string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused cached body due to 304 or an upstream failure
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FetcherOptions configures NewFetcher.
type FetcherOptions struct {
	// CacheDir is the base directory where per-URL cache subdirectories and
	// metadata are stored. Empty disables the disk cache.
	CacheDir string
	// Client overrides the HTTP client. When nil, an SSRF-guarded client is
	// built unless AllowPrivateNetworks is set.
	Client               *http.Client
	AllowPrivateNetworks bool
	// FailureThreshold is the number of consecutive failures that opens a
	// feed's circuit. Zero means 5.
	FailureThreshold uint32
	// OpenTimeout is how long an open circuit rejects requests. Zero means 5m.
	OpenTimeout time.Duration
}

// Fetcher is responsible for fetching ICS feeds with HTTP caching
// (ETag / Last-Modified), a disk-backed body cache and one circuit breaker
// per URL.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	opts     FetcherOptions

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// NewFetcher creates a new ICS Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		if opts.AllowPrivateNetworks {
			client = &http.Client{}
		} else {
			cfg := safeurl.GetConfigBuilder().
				SetAllowedSchemes("http", "https").
				SetAllowedPorts(80, 443).
				Build()
			client = safeurl.Client(cfg).Client
		}
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 5 * time.Minute
	}
	return &Fetcher{
		client:   client,
		cacheDir: opts.CacheDir,
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

func (f *Fetcher) breaker(url string) *gobreaker.CircuitBreaker[*http.Response] {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[url]; ok {
		return cb
	}
	threshold := f.opts.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Timeout:     f.opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			appLog.Info("ics circuit breaker state changed",
				"url", appLog.RedactURL(name),
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	f.breakers[url] = cb
	return cb
}

// FetchOne fetches a single ICS source, honoring ETag and Last-Modified.
// It uses a disk cache under the cache dir keyed by a hash of the URL and
// falls back to the cached body when the network request fails.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(src.URL)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return FetchResult{}, err
		}
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	// Conditional headers only make sense when we can serve a 304 from disk.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", appLog.RedactURL(src.URL))

	resp, err := f.breaker(src.URL).Execute(func() (*http.Response, error) {
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		// Network error or open circuit; if we have a cached body, fall back to it.
		if len(cachedBody) > 0 && ctx.Err() == nil {
			appLog.Warn("ics fetch failed, using cached body", "id", src.ID, "url", appLog.RedactURL(src.URL), "err", err.Error())
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if readErr != nil {
			return FetchResult{}, readErr
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          src.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("ics cache save failed", err, "id", src.ID, "url", appLog.RedactURL(src.URL))
			}
		}

		appLog.Debug("ics fetch success", "id", src.ID, "url", appLog.RedactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", appLog.RedactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		// 4xx means the subscription itself is broken; do not mask it.
		return FetchResult{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
