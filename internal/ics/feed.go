package ics

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "wallcal/internal/log"
	"wallcal/internal/model"
)

// FeedSource collects events from public iCalendar subscriptions.
type FeedSource struct {
	Fetcher *Fetcher
	// Location interprets floating and date-only values.
	Location *time.Location
	// Timeout bounds each feed download; zero means 15s.
	Timeout time.Duration
	// MaxConcurrent bounds parallel downloads; zero means 4.
	MaxConcurrent int
}

// Name identifies the source in logs and error records.
func (s *FeedSource) Name() string { return "ical" }

// Collect downloads, parses and expands every feed into canonical events
// overlapping window. A failing feed contributes one FeedError and no
// events; it never fails the call. The returned slice keeps feed order.
func (s *FeedSource) Collect(ctx context.Context, feeds []Source, window model.Range) model.SourceResult {
	res := model.SourceResult{Calendars: len(feeds)}
	if len(feeds) == 0 {
		return res
	}

	limit := s.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	perFeed := make([][]model.Event, len(feeds))
	feedErrs := make([]*model.FeedError, len(feeds))

	// Each goroutine writes only its own slot.
	var g errgroup.Group
	g.SetLimit(limit)

	for i, src := range feeds {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			events, err := s.collectOne(fctx, src, window)
			if err != nil {
				appLog.Warn("ics feed failed", "url", appLog.RedactURL(src.URL), "err", err.Error())
				feedErrs[i] = &model.FeedError{Feed: src.URL, Message: err.Error()}
				return nil
			}
			perFeed[i] = events
			return nil
		})
	}
	_ = g.Wait()

	for i := range feeds {
		if feedErrs[i] != nil {
			res.Errors = append(res.Errors, *feedErrs[i])
			continue
		}
		res.Events = append(res.Events, perFeed[i]...)
	}
	return res
}

func (s *FeedSource) collectOne(ctx context.Context, src Source, window model.Range) ([]model.Event, error) {
	fr, err := s.Fetcher.FetchOne(ctx, src)
	if err != nil {
		return nil, err
	}

	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	cal, err := ParseICS(src, fr.Body, loc)
	if err != nil {
		return nil, err
	}

	label := src.Label
	if label == "" {
		label = cal.Name
	}
	if label == "" {
		label = LabelFromURL(src.URL)
	}
	color := src.Color
	if color == "" {
		color = model.DefaultCalendarColor
	}
	meta := model.CalendarSource{ID: src.URL, Label: label, Color: color, Enabled: true}

	expanded, err := ExpandOccurrences(cal.Events, ExpandConfig{
		Window: Window{Start: window.TimeMin, End: window.TimeMax},
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Event, 0, len(expanded.Occurrences))
	for _, occ := range expanded.Occurrences {
		if ev, ok := NormalizeOccurrence(occ, meta); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// NormalizeOccurrence maps one occurrence onto the canonical Event, or
// reports false when it is excluded (cancelled).
func NormalizeOccurrence(occ Occurrence, cal model.CalendarSource) (model.Event, bool) {
	if occ.Event.Status == model.StatusCancelled {
		return model.Event{}, false
	}
	if occ.Start.IsZero() {
		return model.Event{}, false
	}

	id := fmt.Sprintf("ical:%s:%s", cal.ID, occ.Event.UID)
	if occ.RecurrenceID != nil {
		id += ":" + instantKey(*occ.RecurrenceID)
	}

	summary := strings.TrimSpace(occ.Event.Summary)
	if summary == "" {
		summary = model.UntitledSummary
	}
	status := occ.Event.Status
	if status == "" {
		status = model.StatusConfirmed
	}

	return model.Event{
		ID:            id,
		CalendarID:    cal.ID,
		CalendarLabel: cal.Label,
		CalendarColor: cal.Color,
		Summary:       summary,
		Description:   occ.Event.Description,
		Location:      occ.Event.Location,
		Start:         occ.Start,
		End:           model.EnsureEnd(occ.Start, occ.End, occ.Event.AllDay),
		AllDay:        occ.Event.AllDay,
		Status:        status,
	}, true
}

// LabelFromURL derives a human label from the last path segment of a feed
// URL (decoded, ".ics" stripped), falling back to the host and then the raw
// URL.
func LabelFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	seg := path.Base(strings.TrimRight(u.EscapedPath(), "/"))
	if seg != "" && seg != "." && seg != "/" {
		if dec, err := url.PathUnescape(seg); err == nil {
			seg = dec
		}
		if strings.HasSuffix(strings.ToLower(seg), ".ics") {
			seg = seg[:len(seg)-len(".ics")]
		}
		if seg != "" {
			return seg
		}
	}
	return u.Hostname()
}
