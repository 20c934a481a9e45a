// Package aggregate runs every enabled source for one window and applies
// the partial-success rules of a sync.
package aggregate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"wallcal/internal/apperr"
	"wallcal/internal/config"
	"wallcal/internal/ics"
	appLog "wallcal/internal/log"
	"wallcal/internal/model"
)

// GoogleFeedName labels hosted-API failures in the errors list.
const GoogleFeedName = "google"

// FeedCollector collects public feed subscriptions. Failures are isolated
// per feed inside the result.
type FeedCollector interface {
	Collect(ctx context.Context, feeds []ics.Source, window model.Range) model.SourceResult
}

// APICollector collects the hosted calendar API as one unit.
type APICollector interface {
	Collect(ctx context.Context, calendars []model.CalendarSource, window model.Range) (model.SourceResult, error)
}

// Aggregator fans out to the configured sources.
type Aggregator struct {
	Feeds  FeedCollector
	Google APICollector
}

func New(feeds FeedCollector, google APICollector) *Aggregator {
	return &Aggregator{Feeds: feeds, Google: google}
}

// Run collects window from every source enabled in cfg.
//
//   - No enabled source: NO_SOURCES.
//   - The hosted API is the only source and fails: its error (NOT_CONNECTED
//     stays NOT_CONNECTED, anything else becomes SYNC_FAILED).
//   - Every source failed: SYNC_FAILED.
//   - Otherwise the result carries the surviving events plus one error
//     record per failed feed and, if it failed, one for the hosted API.
//
// Events are sorted by start, then id.
func (a *Aggregator) Run(ctx context.Context, cfg *config.Config, window model.Range) (model.SourceResult, error) {
	var res model.SourceResult

	feeds := make([]ics.Source, 0)
	if a.Feeds != nil {
		for _, f := range cfg.EnabledFeeds() {
			feeds = append(feeds, ics.Source{ID: f.URL, URL: f.URL, Label: f.Label, Color: f.Color})
		}
	}
	useGoogle := cfg.Google.Enabled && a.Google != nil

	if len(feeds) == 0 && !useGoogle {
		return res, apperr.ErrNoSources
	}

	var (
		wg        sync.WaitGroup
		feedRes   model.SourceResult
		googleRes model.SourceResult
		googleErr error
	)

	if len(feeds) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feedRes = a.Feeds.Collect(ctx, feeds, window)
		}()
	}
	if useGoogle {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Google.TimeoutSeconds)*time.Second)
			defer cancel()
			googleRes, googleErr = a.Google.Collect(gctx, cfg.Calendars, window)
		}()
	}
	wg.Wait()

	if googleErr != nil {
		appLog.Warn("google source failed", "err", googleErr.Error())
		if len(feeds) == 0 {
			if errors.Is(googleErr, apperr.ErrNotConnected) {
				return res, googleErr
			}
			return res, apperr.Wrap(apperr.CodeSyncFailed, "calendar API sync failed", googleErr)
		}
	}

	feedsOK := len(feeds) - len(feedRes.Errors)
	googleOK := useGoogle && googleErr == nil
	if feedsOK <= 0 && !googleOK {
		err := errors.New(summarize(feedRes.Errors))
		if googleErr != nil {
			err = errors.Join(err, googleErr)
		}
		return res, apperr.Wrap(apperr.CodeSyncFailed, "every calendar source failed", err)
	}

	res.Events = append(res.Events, feedRes.Events...)
	res.Events = append(res.Events, googleRes.Events...)
	res.Calendars = feedRes.Calendars + googleRes.Calendars
	res.Errors = append(res.Errors, feedRes.Errors...)
	if googleErr != nil {
		res.Errors = append(res.Errors, model.FeedError{Feed: GoogleFeedName, Message: googleErr.Error()})
	}

	sort.SliceStable(res.Events, func(i, j int) bool {
		a, b := res.Events[i], res.Events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})

	return res, nil
}

func summarize(errs []model.FeedError) string {
	if len(errs) == 0 {
		return "no events source succeeded"
	}
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += appLog.RedactURL(e.Feed) + ": " + e.Message
	}
	return msg
}
