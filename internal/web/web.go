package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"wallcal/internal/apperr"
	"wallcal/internal/clock"
	"wallcal/internal/config"
	appLog "wallcal/internal/log"
	"wallcal/internal/metrics"
	"wallcal/internal/model"
	"wallcal/internal/rangecache"
)

// Engine is the range cache as seen by the HTTP layer.
type Engine interface {
	Query(ctx context.Context) (model.EventCache, error)
	Merged(ctx context.Context) (model.EventCache, []model.MergedEvent, error)
	Sync(ctx context.Context) (model.SyncSummary, error)
	Extend(ctx context.Context, req rangecache.ExtendRequest) (rangecache.ExtendResult, error)
}

// Options configures a Server. Gatherer, Clock and PreviewPath are optional.
type Options struct {
	Config   *config.Holder
	Engine   Engine
	Gatherer prometheus.Gatherer
	Clock    clock.Clock

	// PreviewPath is the PNG written by the snapshot command.
	PreviewPath string

	// SyncRate limits manual syncs; ExtendRate limits range extensions.
	// Zero values use the defaults below.
	SyncRate    rate.Limit
	SyncBurst   int
	ExtendRate  rate.Limit
	ExtendBurst int
}

const (
	defaultSyncRate    = rate.Limit(6.0 / 60.0)
	defaultSyncBurst   = 3
	defaultExtendRate  = rate.Limit(1)
	defaultExtendBurst = 10
)

// Server exposes the engine over HTTP.
type Server struct {
	cfg         *config.Holder
	engine      Engine
	gatherer    prometheus.Gatherer
	clock       clock.Clock
	previewPath string

	syncLimiter   *rate.Limiter
	extendLimiter *rate.Limiter

	router *mux.Router
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:         opts.Config,
		engine:      opts.Engine,
		gatherer:    opts.Gatherer,
		clock:       opts.Clock,
		previewPath: opts.PreviewPath,
		router:      mux.NewRouter(),
	}
	if s.clock == nil {
		s.clock = clock.SystemClock{}
	}

	syncRate, syncBurst := opts.SyncRate, opts.SyncBurst
	if syncRate == 0 {
		syncRate, syncBurst = defaultSyncRate, defaultSyncBurst
	}
	extendRate, extendBurst := opts.ExtendRate, opts.ExtendBurst
	if extendRate == 0 {
		extendRate, extendBurst = defaultExtendRate, defaultExtendBurst
	}
	s.syncLimiter = rate.NewLimiter(syncRate, max(1, syncBurst))
	s.extendLimiter = rate.NewLimiter(extendRate, max(1, extendBurst))

	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if auth := s.basicAuth(); auth != nil {
		appLog.Info("HTTP basic auth enabled")
		return basicAuthMiddleware(auth.Username, auth.Password, h)
	}
	return h
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/events").Subrouter()
	api.HandleFunc("", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/merged", s.handleMerged).Methods(http.MethodGet)
	api.Handle("/sync", limit(s.syncLimiter, "sync", http.HandlerFunc(s.handleSync))).Methods(http.MethodPost)
	api.Handle("/extend", limit(s.extendLimiter, "extend", http.HandlerFunc(s.handleExtend))).Methods(http.MethodPost)
	api.HandleFunc("/layout", s.handleLayout).Methods(http.MethodGet, http.MethodPost)

	if s.previewPath != "" {
		r.HandleFunc("/preview.png", s.handlePreview).Methods(http.MethodGet)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer)).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.cfg.Current().Listen
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) basicAuth() *config.BasicAuthConfig {
	cfg := s.cfg.Current()
	// Empty credentials mean auth is off.
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username == "" || cfg.BasicAuth.Password == "" {
		return nil
	}
	return cfg.BasicAuth
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func basicAuthMiddleware(username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="wallcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// limit rejects requests beyond l with 429.
func limit(l *rate.Limiter, name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow() {
			retry := 1
			if lim := l.Limit(); lim > 0 && lim < 1 {
				retry = int(1 / float64(lim))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			appLog.Warn("rate limit exceeded", "endpoint", name)
			writeError(w, http.StatusTooManyRequests, "too many requests", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last PNG written by the snapshot command.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.previewPath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, code apperr.Code) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeAppError maps coded errors to HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperr.CodeInvalidRange, apperr.CodeNoSources:
		status = http.StatusBadRequest
	case apperr.CodeNotConnected:
		status = http.StatusConflict
	case apperr.CodeSyncFailed:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err)
	}
	writeError(w, status, err.Error(), code)
}
