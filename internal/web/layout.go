package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"wallcal/internal/apperr"
	"wallcal/internal/layout"
	"wallcal/internal/model"
)

type layoutRequest struct {
	// Capacities are per-day limits measured on the rendered page.
	Capacities map[string]int `json:"capacities"`
}

type layoutResponse struct {
	View      string              `json:"view"`
	Timezone  string              `json:"timezone"`
	WeekStart string              `json:"weekStart"`
	Range     model.Range         `json:"range"`
	Covered   bool                `json:"covered"`
	Weeks     []layout.WeekLayout `json:"weeks"`
}

// handleLayout packs the merged cache into a display grid.
//
// GET|POST /api/events/layout?month=2025-02
// GET|POST /api/events/layout?week=2025-02-03
// GET|POST /api/events/layout?fourWeek=2025-02-03
//
// narrow=1 applies the portrait clamp. A POST body may carry measured
// capacities: {"capacities": {"2025-02-03": 2}}. Covered is false when the
// grid reaches outside the cached range; callers extend and ask again.
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Current()
	loc := cfg.Location()
	weekStart := layout.ParseWeekday(cfg.Display.WeekStart)
	q := r.URL.Query()

	var body layoutRequest
	if r.Method == http.MethodPost && r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body", "")
			return
		}
	}

	view, weeks, err := gridFor(q.Get("month"), q.Get("week"), q.Get("fourWeek"), s.clock.Now(), weekStart, loc)
	if err != nil {
		writeAppError(w, err)
		return
	}

	cache, merged, err := s.engine.Merged(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}

	opts := layout.PackOptions{
		GridRows:       len(weeks),
		NarrowPortrait: q.Get("narrow") == "1" || q.Get("narrow") == "true",
		Measured:       body.Capacities,
		Location:       loc,
	}
	resp := layoutResponse{
		View:      view,
		Timezone:  loc.String(),
		WeekStart: cfg.Display.WeekStart,
		Range:     gridRange(weeks),
		Weeks:     make([]layout.WeekLayout, 0, len(weeks)),
	}
	resp.Covered = cache.Range != nil && cache.Range.Contains(resp.Range)
	for _, wk := range weeks {
		resp.Weeks = append(resp.Weeks, layout.PackWeek(wk, merged, opts))
	}
	writeJSON(w, http.StatusOK, resp)
}

// gridFor resolves the requested view. With no parameter the current month
// is used.
func gridFor(month, week, fourWeek string, now time.Time, weekStart time.Weekday, loc *time.Location) (string, []layout.Week, error) {
	switch {
	case week != "":
		d, err := time.ParseInLocation("2006-01-02", week, loc)
		if err != nil {
			return "", nil, apperr.Wrap(apperr.CodeInvalidRange, "invalid week", err)
		}
		return "week", layout.Weeks(d, 1, weekStart, loc), nil
	case fourWeek != "":
		d, err := time.ParseInLocation("2006-01-02", fourWeek, loc)
		if err != nil {
			return "", nil, apperr.Wrap(apperr.CodeInvalidRange, "invalid fourWeek", err)
		}
		return "fourWeek", layout.Weeks(d, 4, weekStart, loc), nil
	default:
		m := now.In(loc)
		if month != "" {
			parsed, err := time.ParseInLocation("2006-01", month, loc)
			if err != nil {
				return "", nil, apperr.Wrap(apperr.CodeInvalidRange, "invalid month", err)
			}
			m = parsed
		}
		return "month", layout.MonthWeeks(m.Year(), m.Month(), weekStart, loc), nil
	}
}

// gridRange is [first visible day, day after the last visible day).
func gridRange(weeks []layout.Week) model.Range {
	var out model.Range
	for _, wk := range weeks {
		for _, d := range wk {
			if d == nil {
				continue
			}
			if out.TimeMin.IsZero() || d.Before(out.TimeMin) {
				out.TimeMin = *d
			}
			if end := d.AddDate(0, 0, 1); end.After(out.TimeMax) {
				out.TimeMax = end
			}
		}
	}
	return out
}
