package ics

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallcal/internal/model"
)

func newTestFeedSource(timeout time.Duration) *FeedSource {
	return &FeedSource{
		Fetcher:  NewFetcher(FetcherOptions{Client: &http.Client{}}),
		Location: time.UTC,
		Timeout:  timeout,
	}
}

func TestCollectIsolatesFailingFeed(t *testing.T) {
	feedA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write(crlf(familyFeed))
	}))
	defer feedA.Close()

	release := make(chan struct{})
	feedB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer feedB.Close()
	defer close(release)

	src := newTestFeedSource(200 * time.Millisecond)
	feeds := []Source{
		{ID: feedA.URL + "/family.ics", URL: feedA.URL + "/family.ics"},
		{ID: feedB.URL + "/slow.ics", URL: feedB.URL + "/slow.ics"},
	}
	res := src.Collect(t.Context(), feeds, model.Range{
		TimeMin: utc(2025, 1, 1, 0, 0),
		TimeMax: utc(2025, 2, 1, 0, 0),
	})

	assert.Equal(t, 2, res.Calendars)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, feedB.URL+"/slow.ics", res.Errors[0].Feed)
	assert.NotEmpty(t, res.Errors[0].Message)

	ids := make([]string, 0, len(res.Events))
	for _, ev := range res.Events {
		ids = append(ids, ev.ID)
		assert.Equal(t, "Family", ev.CalendarLabel)
		assert.Equal(t, model.DefaultCalendarColor, ev.CalendarColor)
		assert.Equal(t, feedA.URL+"/family.ics", ev.CalendarID)
	}
	sort.Strings(ids)
	base := "ical:" + feedA.URL + "/family.ics:"
	assert.Equal(t, []string{
		base + "dentist@example.com",
		base + "standup@example.com:2025-01-06T09:00:00Z",
		base + "standup@example.com:2025-01-08T09:00:00Z",
	}, ids)
}

func TestCollectDropsCancelledAndDerivesLabel(t *testing.T) {
	body := crlf(`
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:a
DTSTART:20250105T100000Z
DTEND:20250105T090000Z
END:VEVENT
BEGIN:VEVENT
UID:b
DTSTART:20250106T100000Z
STATUS:CANCELLED
SUMMARY:Called off
END:VEVENT
END:VCALENDAR
`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	url := srv.URL + "/cal/School%20Events.ics"
	res := newTestFeedSource(time.Second).Collect(t.Context(), []Source{{ID: url, URL: url, Color: "#ff0000"}},
		model.Range{TimeMin: utc(2025, 1, 1, 0, 0), TimeMax: utc(2025, 2, 1, 0, 0)})

	require.Empty(t, res.Errors)
	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, "School Events", ev.CalendarLabel)
	assert.Equal(t, "#ff0000", ev.CalendarColor)
	assert.Equal(t, model.UntitledSummary, ev.Summary)
	assert.Equal(t, model.StatusConfirmed, ev.Status)
	assert.True(t, ev.End.After(ev.Start), "end before start is repaired")
}

func TestCollectReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	res := newTestFeedSource(time.Second).Collect(t.Context(), []Source{{ID: srv.URL, URL: srv.URL}},
		model.Range{TimeMin: utc(2025, 1, 1, 0, 0), TimeMax: utc(2025, 2, 1, 0, 0)})

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "HTTP 404", res.Errors[0].Message)
	assert.Empty(t, res.Events)
}

func TestLabelFromURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/cal/School%20Events.ics", "School Events"},
		{"https://example.com/cal/holidays.ICS", "holidays"},
		{"https://example.com/", "example.com"},
		{"https://example.com/.ics", "example.com"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, LabelFromURL(tt.in))
		})
	}
}
