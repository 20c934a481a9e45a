package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	appLog "wallcal/internal/log"
	"wallcal/internal/model"
	"wallcal/internal/rangecache"
)

// mergedResponse is the JSON shape for /api/events/merged.
type mergedResponse struct {
	UpdatedAt *time.Time          `json:"updatedAt"`
	Range     *model.Range        `json:"range"`
	Events    []model.MergedEvent `json:"events"`
}

// handleEvents returns the cache snapshot as stored. Filtering to a day,
// week or month is left to the caller.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	cache, err := s.engine.Query(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cache)
}

// handleMerged returns the cached events after calendar merging.
func (s *Server) handleMerged(w http.ResponseWriter, r *http.Request) {
	cache, merged, err := s.engine.Merged(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mergedResponse{
		UpdatedAt: cache.UpdatedAt,
		Range:     cache.Range,
		Events:    merged,
	})
}

// handleSync forces a re-sync of the configured window.
//
// POST /api/events/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Sync(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	appLog.Info("manual sync complete", "run", summary.RunID, "events", summary.EventCount)
	writeJSON(w, http.StatusOK, summary)
}

// handleExtend grows the covered window.
//
// POST /api/events/extend
//
//	{"timeMin": "2024-12-15", "timeMax": "2025-03-31T00:00:00Z", "view": "month"}
//
// Query parameters of the same names are accepted when there is no body.
func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req rangecache.ExtendRequest
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body", "")
			return
		}
	}
	q := r.URL.Query()
	if req.TimeMin == "" {
		req.TimeMin = q.Get("timeMin")
	}
	if req.TimeMax == "" {
		req.TimeMax = q.Get("timeMax")
	}
	if req.View == "" {
		req.View = q.Get("view")
	}

	res, err := s.engine.Extend(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
