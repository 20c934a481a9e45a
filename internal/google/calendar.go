package google

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "wallcal/internal/log"
	"wallcal/internal/model"
)

const maxResultsPerPage = 2500

var errStopPaging = errors.New("stop paging")

var descriptionPolicy = bluemonday.UGCPolicy()

// Source collects events from the hosted calendar API.
type Source struct {
	Provider ClientProvider
	// Location interprets date-only values.
	Location *time.Location
	// Options are appended to the service options, e.g. a test endpoint.
	Options []option.ClientOption
}

func (s *Source) Name() string { return "google" }

// Collect fetches every target calendar's events in window. configured is
// the explicit calendar list; empty means every calendar visible to the
// account. Any API error fails the whole source.
func (s *Source) Collect(ctx context.Context, configured []model.CalendarSource, window model.Range) (model.SourceResult, error) {
	var res model.SourceResult

	client, err := s.Provider.Client(ctx)
	if err != nil {
		return res, err
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, s.Options...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return res, fmt.Errorf("unable to create calendar client: %w", err)
	}

	listed := make([]*calendar.CalendarListEntry, 0)
	err = service.CalendarList.List().MinAccessRole("reader").Pages(ctx, func(page *calendar.CalendarList) error {
		listed = append(listed, page.Items...)
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("unable to retrieve calendar list: %w", err)
	}

	targets := BuildCalendarTargets(configured, listed)
	res.Calendars = len(targets)

	loc := s.Location
	if loc == nil {
		loc = time.Local
	}

	for _, target := range targets {
		count := 0
		for item, err := range RawEvents(ctx, service, target.ID, window) {
			if err != nil {
				return model.SourceResult{}, fmt.Errorf("unable to retrieve events for calendar %s: %w", target.ID, err)
			}
			if ev, ok := NormalizeEvent(item, target, loc); ok {
				res.Events = append(res.Events, ev)
				count++
			}
		}
		appLog.Debug("google calendar fetched", "calendar", target.ID, "events", count)
	}

	return res, nil
}

// RawEvents yields the single (expanded) events of one calendar in window,
// requesting pages lazily. Iteration can be restarted by ranging again.
func RawEvents(ctx context.Context, service *calendar.Service, calendarID string, window model.Range) iter.Seq2[*calendar.Event, error] {
	return func(yield func(*calendar.Event, error) bool) {
		call := service.Events.List(calendarID).
			TimeMin(window.TimeMin.Format(time.RFC3339)).
			TimeMax(window.TimeMax.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(maxResultsPerPage)

		err := call.Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if !yield(item, nil) {
					return errStopPaging
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopPaging) {
			yield(nil, err)
		}
	}
}

// BuildCalendarTargets resolves which calendars to query. An explicit
// configured list wins (filtered to enabled), with label and color taken
// from the configuration, then the provider, then defaults. Otherwise
// every listed calendar is used.
func BuildCalendarTargets(configured []model.CalendarSource, listed []*calendar.CalendarListEntry) []model.CalendarSource {
	byID := make(map[string]*calendar.CalendarListEntry, len(listed))
	for _, item := range listed {
		if item != nil {
			byID[item.Id] = item
		}
	}

	if len(configured) > 0 {
		out := make([]model.CalendarSource, 0, len(configured))
		for _, c := range configured {
			if !c.Enabled {
				continue
			}
			target := model.CalendarSource{ID: c.ID, Label: c.Label, Color: c.Color, Enabled: true}
			item := byID[c.ID]
			if target.Label == "" && item != nil {
				target.Label = entryLabel(item)
			}
			if target.Label == "" {
				target.Label = c.ID
			}
			if target.Color == "" && item != nil {
				target.Color = item.BackgroundColor
			}
			if target.Color == "" {
				target.Color = model.DefaultCalendarColor
			}
			out = append(out, target)
		}
		return out
	}

	out := make([]model.CalendarSource, 0, len(listed))
	for _, item := range listed {
		if item == nil {
			continue
		}
		label := entryLabel(item)
		if label == "" {
			label = item.Id
		}
		color := item.BackgroundColor
		if color == "" {
			color = model.DefaultCalendarColor
		}
		out = append(out, model.CalendarSource{ID: item.Id, Label: label, Color: color, Enabled: true})
	}
	return out
}

func entryLabel(item *calendar.CalendarListEntry) string {
	if item.SummaryOverride != "" {
		return item.SummaryOverride
	}
	return item.Summary
}

// NormalizeEvent maps one API event onto the canonical Event. It reports
// false for cancelled events and events without a usable start.
func NormalizeEvent(item *calendar.Event, target model.CalendarSource, loc *time.Location) (model.Event, bool) {
	if item == nil || item.Status == model.StatusCancelled {
		return model.Event{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	start, allDay, ok := parseEventDateTime(item.Start, loc)
	if !ok {
		return model.Event{}, false
	}
	end, _, ok := parseEventDateTime(item.End, loc)
	if !ok {
		end = time.Time{}
	}

	summary := strings.TrimSpace(item.Summary)
	if summary == "" {
		summary = model.UntitledSummary
	}
	status := item.Status
	if status == "" {
		status = model.StatusConfirmed
	}

	return model.Event{
		ID:            fmt.Sprintf("google:%s:%s", target.ID, item.Id),
		CalendarID:    target.ID,
		CalendarLabel: target.Label,
		CalendarColor: target.Color,
		Summary:       summary,
		Description:   descriptionPolicy.Sanitize(item.Description),
		Location:      item.Location,
		Start:         start,
		End:           model.EnsureEnd(start, end, allDay),
		AllDay:        allDay,
		Status:        status,
	}, true
}

// parseEventDateTime returns the instant and whether it was a date-only
// value. A date-only value is midnight in loc.
func parseEventDateTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool, bool) {
	if dt == nil {
		return time.Time{}, false, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, false, true
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, true, true
	}
	return time.Time{}, false, false
}
