package google

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"wallcal/internal/apperr"
	"wallcal/internal/model"
)

type fakeAPI struct {
	eventCalls atomic.Int32
	lastQuery  atomic.Value
	failEvents bool
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/users/me/calendarList":
		_ = json.NewEncoder(w).Encode(calendar.CalendarList{Items: []*calendar.CalendarListEntry{
			{Id: "primary", Summary: "Me", BackgroundColor: "#111111"},
			{Id: "family", Summary: "Family"},
		}})
	case strings.HasPrefix(r.URL.Path, "/calendars/") && strings.HasSuffix(r.URL.Path, "/events"):
		f.eventCalls.Add(1)
		if f.failEvents {
			http.Error(w, `{"error":{"code":500,"message":"backend"}}`, http.StatusInternalServerError)
			return
		}
		calID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/calendars/"), "/events")
		f.lastQuery.Store(r.URL.Query())

		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(calendar.Events{
				NextPageToken: "p2",
				Items: []*calendar.Event{{
					Id:      calID + "-1",
					Summary: "Soccer",
					Start:   &calendar.EventDateTime{DateTime: "2025-01-10T17:00:00Z"},
					End:     &calendar.EventDateTime{DateTime: "2025-01-10T18:00:00Z"},
				}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(calendar.Events{Items: []*calendar.Event{
			{
				Id:     calID + "-2",
				Status: "cancelled",
				Start:  &calendar.EventDateTime{DateTime: "2025-01-11T17:00:00Z"},
			},
			{
				Id:    calID + "-3",
				Start: &calendar.EventDateTime{Date: "2025-01-12"},
				End:   &calendar.EventDateTime{Date: "2025-01-13"},
			},
		}})
	default:
		http.NotFound(w, r)
	}
}

func newTestSource(t *testing.T, api *fakeAPI) *Source {
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return &Source{
		Provider: StaticClientProvider{HTTPClient: srv.Client()},
		Location: time.UTC,
		Options:  []option.ClientOption{option.WithEndpoint(srv.URL + "/")},
	}
}

var window = model.Range{
	TimeMin: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	TimeMax: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
}

func TestCollectPagesAllCalendars(t *testing.T) {
	api := &fakeAPI{}
	res, err := newTestSource(t, api).Collect(t.Context(), nil, window)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Calendars)
	assert.Equal(t, int32(4), api.eventCalls.Load(), "two pages per calendar")
	q := api.lastQuery.Load().(url.Values)
	assert.Equal(t, "true", q.Get("singleEvents"))
	assert.Equal(t, "startTime", q.Get("orderBy"))
	assert.Equal(t, "2500", q.Get("maxResults"))
	require.Len(t, res.Events, 4, "cancelled events are dropped")

	first := res.Events[0]
	assert.Equal(t, "google:primary:primary-1", first.ID)
	assert.Equal(t, "Me", first.CalendarLabel)
	assert.Equal(t, "#111111", first.CalendarColor)

	allDay := res.Events[1]
	assert.True(t, allDay.AllDay)
	assert.Equal(t, model.UntitledSummary, allDay.Summary)

	family := res.Events[2]
	assert.Equal(t, model.DefaultCalendarColor, family.CalendarColor)
}

func TestCollectUsesConfiguredCalendars(t *testing.T) {
	api := &fakeAPI{}
	res, err := newTestSource(t, api).Collect(t.Context(), []model.CalendarSource{
		{ID: "family", Label: "Home", Enabled: true},
		{ID: "primary", Enabled: false},
	}, window)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Calendars)
	require.NotEmpty(t, res.Events)
	for _, ev := range res.Events {
		assert.Equal(t, "family", ev.CalendarID)
		assert.Equal(t, "Home", ev.CalendarLabel)
	}
}

func TestCollectFailsWholeSourceOnAPIError(t *testing.T) {
	_, err := newTestSource(t, &fakeAPI{failEvents: true}).Collect(t.Context(), nil, window)
	assert.Error(t, err)
}

func TestCollectNotConnected(t *testing.T) {
	src := &Source{Provider: NewTokenFileProvider("id", "secret", filepath.Join(t.TempDir(), "missing.json"))}
	_, err := src.Collect(t.Context(), nil, window)
	assert.ErrorIs(t, err, apperr.ErrNotConnected)

	_, err = (&Source{Provider: StaticClientProvider{}}).Collect(t.Context(), nil, window)
	assert.ErrorIs(t, err, apperr.ErrNotConnected)
}

func TestBuildCalendarTargets(t *testing.T) {
	listed := []*calendar.CalendarListEntry{
		{Id: "a", Summary: "Alpha", BackgroundColor: "#aaaaaa"},
		{Id: "b", SummaryOverride: "Bee", Summary: "B"},
	}

	t.Run("configured list wins", func(t *testing.T) {
		got := BuildCalendarTargets([]model.CalendarSource{
			{ID: "a", Enabled: true},
			{ID: "x", Color: "#000000", Enabled: true},
			{ID: "b", Enabled: false},
		}, listed)
		assert.Equal(t, []model.CalendarSource{
			{ID: "a", Label: "Alpha", Color: "#aaaaaa", Enabled: true},
			{ID: "x", Label: "x", Color: "#000000", Enabled: true},
		}, got)
	})

	t.Run("falls back to listed calendars", func(t *testing.T) {
		got := BuildCalendarTargets(nil, listed)
		assert.Equal(t, []model.CalendarSource{
			{ID: "a", Label: "Alpha", Color: "#aaaaaa", Enabled: true},
			{ID: "b", Label: "Bee", Color: model.DefaultCalendarColor, Enabled: true},
		}, got)
	})
}

func TestNormalizeEvent(t *testing.T) {
	target := model.CalendarSource{ID: "cal", Label: "Cal", Color: "#123456"}

	ev, ok := NormalizeEvent(&calendar.Event{
		Id:          "e1",
		Summary:     "Party",
		Description: `<b>Bring</b> snacks<script>alert(1)</script>`,
		Start:       &calendar.EventDateTime{DateTime: "2025-01-10T17:00:00Z"},
		End:         &calendar.EventDateTime{DateTime: "2025-01-10T17:00:00Z"},
	}, target, time.UTC)
	require.True(t, ok)
	assert.Equal(t, "google:cal:e1", ev.ID)
	assert.Equal(t, time.Hour, ev.End.Sub(ev.Start), "zero-length event gets an hour")
	assert.NotContains(t, ev.Description, "<script>")
	assert.Contains(t, ev.Description, "snacks")
	assert.Equal(t, model.StatusConfirmed, ev.Status)

	_, ok = NormalizeEvent(&calendar.Event{Id: "bad", Start: &calendar.EventDateTime{DateTime: "soon"}}, target, time.UTC)
	assert.False(t, ok)

	_, ok = NormalizeEvent(&calendar.Event{Id: "gone", Status: "cancelled"}, target, time.UTC)
	assert.False(t, ok)
}
