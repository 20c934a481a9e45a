package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallcal/internal/apperr"
	"wallcal/internal/config"
	"wallcal/internal/ics"
	"wallcal/internal/model"
)

var (
	t0     = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	window = model.Range{TimeMin: t0.AddDate(0, 0, -9), TimeMax: t0.AddDate(0, 0, 22)}
)

type fakeFeeds struct {
	failing map[string]bool
	seen    []ics.Source
}

func (f *fakeFeeds) Collect(_ context.Context, feeds []ics.Source, _ model.Range) model.SourceResult {
	f.seen = feeds
	res := model.SourceResult{Calendars: len(feeds)}
	for i, src := range feeds {
		if f.failing[src.URL] {
			res.Errors = append(res.Errors, model.FeedError{Feed: src.URL, Message: "timeout"})
			continue
		}
		res.Events = append(res.Events, model.Event{
			ID:         "ical:" + src.URL + ":e",
			CalendarID: src.URL,
			Start:      t0.Add(time.Duration(len(feeds)-i) * time.Hour),
			End:        t0.Add(time.Duration(len(feeds)-i+1) * time.Hour),
		})
	}
	return res
}

type fakeGoogle struct {
	err       error
	calendars []model.CalendarSource
}

func (g *fakeGoogle) Collect(_ context.Context, calendars []model.CalendarSource, _ model.Range) (model.SourceResult, error) {
	g.calendars = calendars
	if g.err != nil {
		return model.SourceResult{}, g.err
	}
	return model.SourceResult{
		Calendars: 1,
		Events:    []model.Event{{ID: "google:primary:1", Start: t0, End: t0.Add(time.Hour)}},
	}, nil
}

func cfgWith(feeds []string, google bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Google.Enabled = google
	for _, u := range feeds {
		cfg.ICal.Feeds = append(cfg.ICal.Feeds, config.FeedConfig{URL: u, Enabled: true})
	}
	return cfg
}

func TestRunNoSources(t *testing.T) {
	a := New(&fakeFeeds{}, &fakeGoogle{})
	_, err := a.Run(t.Context(), cfgWith(nil, false), window)
	assert.ErrorIs(t, err, apperr.ErrNoSources)

	// Disabled feeds do not count.
	cfg := cfgWith(nil, false)
	cfg.ICal.Feeds = []config.FeedConfig{{URL: "https://a.example/x.ics", Enabled: false}}
	_, err = a.Run(t.Context(), cfg, window)
	assert.ErrorIs(t, err, apperr.ErrNoSources)
}

func TestRunGoogleOnlyNotConnected(t *testing.T) {
	a := New(&fakeFeeds{}, &fakeGoogle{err: apperr.ErrNotConnected})
	_, err := a.Run(t.Context(), cfgWith(nil, true), window)
	assert.ErrorIs(t, err, apperr.ErrNotConnected)
}

func TestRunGoogleOnlyAPIFailure(t *testing.T) {
	a := New(&fakeFeeds{}, &fakeGoogle{err: errors.New("quota")})
	_, err := a.Run(t.Context(), cfgWith(nil, true), window)
	assert.ErrorIs(t, err, apperr.ErrSyncFailed)
}

func TestRunPartialSuccess(t *testing.T) {
	feeds := &fakeFeeds{failing: map[string]bool{"https://b.example/b.ics": true}}
	a := New(feeds, &fakeGoogle{err: apperr.ErrNotConnected})

	res, err := a.Run(t.Context(), cfgWith([]string{"https://a.example/a.ics", "https://b.example/b.ics"}, true), window)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Calendars)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "https://b.example/b.ics", res.Errors[0].Feed)
	assert.Equal(t, GoogleFeedName, res.Errors[1].Feed)
	require.Len(t, res.Events, 1)
}

func TestRunAllSourcesFailed(t *testing.T) {
	feeds := &fakeFeeds{failing: map[string]bool{"https://a.example/a.ics": true}}
	a := New(feeds, &fakeGoogle{err: errors.New("down")})

	_, err := a.Run(t.Context(), cfgWith([]string{"https://a.example/a.ics"}, true), window)
	assert.ErrorIs(t, err, apperr.ErrSyncFailed)
}

func TestRunCombinesAndSorts(t *testing.T) {
	g := &fakeGoogle{}
	a := New(&fakeFeeds{}, g)
	cfg := cfgWith([]string{"https://a.example/a.ics", "https://b.example/b.ics"}, true)
	cfg.Calendars = []model.CalendarSource{{ID: "primary", Enabled: true}}

	res, err := a.Run(t.Context(), cfg, window)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Calendars)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Events, 3)
	for i := 1; i < len(res.Events); i++ {
		assert.False(t, res.Events[i].Start.Before(res.Events[i-1].Start))
	}
	assert.Equal(t, "google:primary:1", res.Events[0].ID)
	assert.Equal(t, cfg.Calendars, g.calendars)
}
