// Package schedule runs the periodic background sync.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	appLog "wallcal/internal/log"
	"wallcal/internal/model"
)

// Syncer is the part of the range cache the scheduler drives.
type Syncer interface {
	Query(ctx context.Context) (model.EventCache, error)
	Sync(ctx context.Context) (model.SyncSummary, error)
}

// AutoSync triggers Sync on a cron schedule. Overlapping ticks are skipped
// while a run is still in progress.
type AutoSync struct {
	syncer   Syncer
	spec     string
	disabled bool
	loc      *time.Location
}

func NewAutoSync(syncer Syncer, spec string, disabled bool, loc *time.Location) *AutoSync {
	if loc == nil {
		loc = time.Local
	}
	return &AutoSync{syncer: syncer, spec: spec, disabled: disabled, loc: loc}
}

// Start runs one sync if the cache has never been filled, then schedules
// the rest and blocks until ctx is done. It returns early with an error
// for an unparseable schedule.
func (a *AutoSync) Start(ctx context.Context) error {
	if a.disabled {
		appLog.Info("auto sync disabled")
		<-ctx.Done()
		return nil
	}
	if _, err := cron.ParseStandard(a.spec); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", a.spec, err)
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(a.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(a.spec, func() { a.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule auto sync: %w", err)
	}

	a.initialSync(ctx)

	c.Start()
	appLog.Info("auto sync scheduled", "schedule", a.spec, "timezone", a.loc.String())

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	appLog.Info("auto sync stopped")
	return nil
}

// RunOnce performs one sync and logs the outcome.
func (a *AutoSync) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	summary, err := a.syncer.Sync(ctx)
	if err != nil {
		appLog.Error("auto sync failed", err)
		return
	}
	for _, fe := range summary.Errors {
		feed := fe.Feed
		if strings.Contains(feed, "://") {
			feed = appLog.RedactURL(feed)
		}
		appLog.Warn("source failed during auto sync",
			"run", summary.RunID,
			"feed", feed,
			"message", fe.Message,
		)
	}
}

func (a *AutoSync) initialSync(ctx context.Context) {
	cache, err := a.syncer.Query(ctx)
	if err != nil {
		appLog.Warn("could not read event cache before first sync", "err", err.Error())
	}
	if err == nil && cache.Range != nil {
		return
	}
	appLog.Info("event cache empty, running initial sync")
	a.RunOnce(ctx)
}

// cronLogger routes cron's own messages through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
