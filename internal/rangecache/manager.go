// Package rangecache owns the persisted EventCache and decides when the
// covered window has to be fetched again.
package rangecache

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"wallcal/internal/apperr"
	"wallcal/internal/clock"
	"wallcal/internal/config"
	appLog "wallcal/internal/log"
	"wallcal/internal/merge"
	"wallcal/internal/metrics"
	"wallcal/internal/model"
	"wallcal/internal/store"
)

// Runner collects every configured source for one window.
type Runner interface {
	Run(ctx context.Context, cfg *config.Config, window model.Range) (model.SourceResult, error)
}

// ExtendRequest asks for the covered window to grow. Bounds are RFC3339
// timestamps or YYYY-MM-DD dates in the configured timezone; empty means
// "leave this side alone". View names the display view asking for a
// backfill ("month", "fourWeek", "week").
type ExtendRequest struct {
	TimeMin string `json:"timeMin,omitempty"`
	TimeMax string `json:"timeMax,omitempty"`
	View    string `json:"view,omitempty"`
}

// ExtendResult reports whether a fetch happened.
type ExtendResult struct {
	Updated                bool               `json:"updated"`
	EffectiveLookaheadDays int                `json:"effectiveLookaheadDays"`
	Summary                *model.SyncSummary `json:"summary,omitempty"`
}

type backfillAttempt struct {
	key string
	at  time.Time
}

type Options struct {
	Store   store.Store
	Runner  Runner
	Config  *config.Holder
	Clock   clock.Clock
	Metrics metrics.Recorder
}

// Manager serializes every write to the cache. Overlapping Sync calls join
// the one in flight.
type Manager struct {
	store   store.Store
	runner  Runner
	cfg     *config.Holder
	clock   clock.Clock
	metrics metrics.Recorder

	group singleflight.Group

	// syncMu guards the cache writes and lastBackfill.
	syncMu       sync.Mutex
	lastBackfill backfillAttempt
}

func New(opts Options) *Manager {
	m := &Manager{
		store:   opts.Store,
		runner:  opts.Runner,
		cfg:     opts.Config,
		clock:   opts.Clock,
		metrics: opts.Metrics,
	}
	if m.clock == nil {
		m.clock = clock.SystemClock{}
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop{}
	}
	return m
}

// Query returns the current cache snapshot.
func (m *Manager) Query(ctx context.Context) (model.EventCache, error) {
	return m.store.Load(ctx)
}

// Merged returns the cache snapshot together with its events passed through
// the merge engine with the configured merge flag. Both come from one load.
func (m *Manager) Merged(ctx context.Context) (model.EventCache, []model.MergedEvent, error) {
	cache, err := m.store.Load(ctx)
	if err != nil {
		return model.EventCache{}, nil, err
	}
	cfg := m.cfg.Current()
	return cache, merge.Events(cache.Events, cfg.Display.MergeCalendars), nil
}

// Sync re-fetches [now, now+lookahead] and replaces the cache. A trigger
// that arrives while a sync is running receives that sync's result.
func (m *Manager) Sync(ctx context.Context) (model.SyncSummary, error) {
	v, err, shared := m.group.Do("sync", func() (any, error) {
		// The run belongs to every joined caller, not just the first one.
		runCtx := context.WithoutCancel(ctx)

		m.syncMu.Lock()
		defer m.syncMu.Unlock()

		cfg := m.cfg.Current()
		now := m.clock.Now()
		window := model.Range{
			TimeMin: now,
			TimeMax: now.AddDate(0, 0, cfg.LookaheadDays),
		}
		return m.fetch(runCtx, cfg, window)
	})
	if shared {
		appLog.Debug("sync joined in-flight run")
	}
	if err != nil {
		return model.SyncSummary{}, err
	}
	return v.(model.SyncSummary), nil
}

// Extend grows the covered window toward req's bounds.
//
// Forward growth raises the lookahead setting to cover TimeMax (capped) and
// fetches from the existing lower bound to the new upper bound. Backward
// growth fetches from TimeMin to the existing upper bound, unless the view
// has backfill disabled or the same request was attempted within the
// debounce window. When neither side needs to grow, nothing is fetched.
func (m *Manager) Extend(ctx context.Context, req ExtendRequest) (ExtendResult, error) {
	cfg := m.cfg.Current()
	loc := cfg.Location()

	reqMin, err := parseBound(req.TimeMin, loc)
	if err != nil {
		return ExtendResult{}, apperr.Wrap(apperr.CodeInvalidRange, "invalid timeMin", err)
	}
	reqMax, err := parseBound(req.TimeMax, loc)
	if err != nil {
		return ExtendResult{}, apperr.Wrap(apperr.CodeInvalidRange, "invalid timeMax", err)
	}
	if !reqMin.IsZero() && !reqMax.IsZero() && reqMax.Before(reqMin) {
		return ExtendResult{}, apperr.New(apperr.CodeInvalidRange, "timeMax precedes timeMin")
	}

	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	cache, err := m.store.Load(ctx)
	if err != nil {
		return ExtendResult{}, fmt.Errorf("load event cache: %w", err)
	}

	now := m.clock.Now()
	base := model.Range{TimeMin: now, TimeMax: now}
	if cache.Range != nil {
		base = *cache.Range
	}

	result := ExtendResult{EffectiveLookaheadDays: cfg.LookaheadDays}
	window := base

	lookahead := cfg.LookaheadDays
	forward := !reqMax.IsZero() && reqMax.After(now) && reqMax.After(base.TimeMax)
	if forward {
		needed := int(math.Ceil(reqMax.Sub(now).Hours() / 24))
		lookahead = min(max(lookahead, needed), config.MaxLookaheadDays)
		window.TimeMax = later(base.TimeMax, now.AddDate(0, 0, lookahead))
		result.EffectiveLookaheadDays = lookahead
		// Past the cap the window cannot grow any further.
		if !window.TimeMax.After(base.TimeMax) {
			forward = false
		}
	}

	backward, suppressed := false, false
	if !reqMin.IsZero() && reqMin.Before(base.TimeMin) {
		switch {
		case !cfg.BackfillEnabled(req.View):
			suppressed = true
			m.metrics.RecordExtend("backward", metrics.ExtendDisabled)
		case m.debounced(reqMin, base.TimeMin, now, cfg):
			suppressed = true
			appLog.Debug("backfill debounced", "timeMin", reqMin.Format(time.RFC3339))
			m.metrics.RecordExtend("backward", metrics.ExtendDebounced)
		default:
			backward = true
			window.TimeMin = reqMin
			m.lastBackfill = backfillAttempt{key: backfillKey(reqMin, base.TimeMin), at: now}
		}
	}

	if !forward && !backward {
		if !suppressed {
			m.metrics.RecordExtend("none", metrics.ExtendNoop)
		}
		return result, nil
	}

	summary, err := m.fetch(ctx, cfg, window)
	if err != nil {
		m.metrics.RecordExtend(direction(forward, backward), metrics.ExtendFailed)
		return result, err
	}
	m.metrics.RecordExtend(direction(forward, backward), metrics.ExtendFetched)

	if forward && lookahead != cfg.LookaheadDays {
		if err := m.cfg.Update(func(c *config.Config) {
			c.LookaheadDays = max(c.LookaheadDays, lookahead)
		}); err != nil {
			appLog.Warn("failed to persist lookahead days", "days", lookahead, "err", err.Error())
		}
	}

	result.Updated = true
	result.Summary = &summary
	return result, nil
}

// fetch runs every source for window and replaces the cache on success.
// Callers hold syncMu.
func (m *Manager) fetch(ctx context.Context, cfg *config.Config, window model.Range) (model.SyncSummary, error) {
	runID := uuid.NewString()
	started := time.Now()
	appLog.Info("sync started",
		"run", runID,
		"timeMin", window.TimeMin.Format(time.RFC3339),
		"timeMax", window.TimeMax.Format(time.RFC3339),
	)

	res, err := m.runner.Run(ctx, cfg, window)
	elapsed := time.Since(started)
	if err != nil {
		m.metrics.RecordSync(metrics.ResultFailed, elapsed, 0)
		appLog.Error("sync failed", err, "run", runID)
		return model.SyncSummary{}, err
	}

	updated := m.clock.Now()
	events := res.Events
	if events == nil {
		events = []model.Event{}
	}
	cache := model.EventCache{
		UpdatedAt: &updated,
		Range:     &window,
		Events:    events,
	}
	if err := m.store.Save(ctx, cache); err != nil {
		m.metrics.RecordSync(metrics.ResultFailed, elapsed, 0)
		appLog.Error("failed to save event cache", err, "run", runID)
		return model.SyncSummary{}, apperr.Wrap(apperr.CodeSyncFailed, "failed to save event cache", err)
	}

	result := metrics.ResultSuccess
	if len(res.Errors) > 0 {
		result = metrics.ResultPartial
	}
	m.metrics.RecordSync(result, elapsed, len(res.Errors))
	m.metrics.SetCachedEvents(len(events))

	errs := res.Errors
	if errs == nil {
		errs = []model.FeedError{}
	}
	appLog.Info("sync finished",
		"run", runID,
		"events", len(events),
		"calendars", res.Calendars,
		"errors", len(errs),
	)
	return model.SyncSummary{
		RunID:         runID,
		UpdatedAt:     updated,
		EventCount:    len(events),
		CalendarCount: res.Calendars,
		Errors:        errs,
	}, nil
}

func (m *Manager) debounced(target, prevMin, now time.Time, cfg *config.Config) bool {
	if m.lastBackfill.key != backfillKey(target, prevMin) {
		return false
	}
	wait := time.Duration(cfg.Display.BackfillDebounceSeconds) * time.Second
	return now.Sub(m.lastBackfill.at) < wait
}

func backfillKey(target, prevMin time.Time) string {
	return target.UTC().Format(time.RFC3339) + "|" + prevMin.UTC().Format(time.RFC3339)
}

// parseBound accepts RFC3339 or a bare date, which is local midnight in loc.
func parseBound(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor YYYY-MM-DD", raw)
	}
	return t, nil
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func direction(forward, backward bool) string {
	switch {
	case forward && backward:
		return "both"
	case backward:
		return "backward"
	default:
		return "forward"
	}
}
