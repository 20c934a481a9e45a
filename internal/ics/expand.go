package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "wallcal/internal/log"
	"wallcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// Window is a query window [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Occurrence is one concrete instance of a parsed event. Content fields come
// from the override VEVENT when one replaced the rule-generated instance.
type Occurrence struct {
	Event ParsedEvent
	Start time.Time
	End   time.Time
	// RecurrenceID is the generating instant for recurring events, or the
	// RECURRENCE-ID of a standalone override. Nil for plain single events.
	RecurrenceID *time.Time
}

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	Window Window

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences expands every parsed event of one feed into concrete
// occurrences overlapping cfg.Window. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides, including overrides whose base event is
//     missing from the feed (they pass through as single events)
//
// When a UID appears more than once as a base event, the highest SEQUENCE
// wins.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.Window.End.Before(cfg.Window.Start) {
		return result, errors.New("expand: window end is before window start")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID.
	baseByUID := make(map[string]ParsedEvent)
	overridesByUID := make(map[string]map[string]ParsedEvent)
	order := make([]string, 0)

	for _, ev := range events {
		if ev.IsOverride() {
			ov := overridesByUID[ev.UID]
			if ov == nil {
				ov = make(map[string]ParsedEvent)
				overridesByUID[ev.UID] = ov
			}
			if prev, ok := ov[ev.RecurrenceKey]; !ok || ev.Seq >= prev.Seq {
				ov[ev.RecurrenceKey] = ev
			}
			continue
		}
		prev, seen := baseByUID[ev.UID]
		if !seen {
			order = append(order, ev.UID)
		}
		if !seen || ev.Seq >= prev.Seq {
			baseByUID[ev.UID] = ev
		}
	}

	out := make([]Occurrence, 0)

	for _, uid := range order {
		occ, hitCap := Expand(baseByUID[uid], overridesByUID[uid], cfg.Window, cfg.MaxOccurrencesPerEvent)
		out = append(out, occ...)

		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	// Overrides without a base event in this document.
	orphanUIDs := make([]string, 0)
	for uid := range overridesByUID {
		if _, ok := baseByUID[uid]; !ok {
			orphanUIDs = append(orphanUIDs, uid)
		}
	}
	sort.Strings(orphanUIDs)
	for _, uid := range orphanUIDs {
		keys := make([]string, 0, len(overridesByUID[uid]))
		for k := range overridesByUID[uid] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ov := overridesByUID[uid][k]
			if o, ok := single(ov, cfg.Window); ok {
				o.RecurrenceID = ov.RecurrenceID
				out = append(out, o)
			}
		}
	}

	result.Occurrences = out
	return result, nil
}

// Expand produces the occurrences of one base event within w, applying
// exceptions and the overrides keyed by RecurrenceKey. The second return
// value reports whether the occurrence cap was hit.
func Expand(ev ParsedEvent, overrides map[string]ParsedEvent, w Window, maxOccurrences int) ([]Occurrence, bool) {
	if ev.RawRRule == "" {
		if o, ok := single(ev, w); ok {
			return []Occurrence{o}, false
		}
		return nil, false
	}
	if maxOccurrences <= 0 {
		maxOccurrences = defaultMaxOccurrencesPerEvent
	}
	return expandRecurring(ev, overrides, w, maxOccurrences)
}

func single(ev ParsedEvent, w Window) (Occurrence, bool) {
	if ev.Start.IsZero() {
		return Occurrence{}, false
	}
	end := model.EnsureEnd(ev.Start, ev.End, ev.AllDay)
	if !model.Overlaps(ev.Start, end, w.Start, w.End) {
		return Occurrence{}, false
	}
	return Occurrence{Event: ev, Start: ev.Start, End: end}, true
}

func expandRecurring(ev ParsedEvent, overrides map[string]ParsedEvent, w Window, maxOccurrences int) ([]Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Debug("expand: failed to parse RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "err", err.Error())
		return nil, false
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	baseEnd := model.EnsureEnd(ev.Start, ev.End, ev.AllDay)
	duration := baseEnd.Sub(ev.Start)
	spanDays := calendarDays(ev.Start, baseEnd)

	// Look back by one duration so instances that began before the window
	// but are still running inside it are generated too. Both bounds are
	// inclusive; the overlap test below settles boundary instants.
	loc := ev.Start.Location()
	occTimes := r.Between(w.Start.Add(-duration).In(loc), w.End.In(loc), true)

	hitCap := false
	if len(occTimes) > maxOccurrences {
		occTimes = occTimes[:maxOccurrences]
		hitCap = true
	}

	out := make([]Occurrence, 0, len(occTimes))
	for _, instant := range occTimes {
		if instant.IsZero() {
			continue
		}
		iso := instantKey(instant)
		day := instant.In(loc).Format(dateKeyLayout)

		if _, ok := ev.ExDates[iso]; ok {
			continue
		}
		if _, ok := ev.ExDates[day]; ok {
			continue
		}

		occ := Occurrence{Event: ev, Start: instant}
		if ev.AllDay {
			occ.End = instant.AddDate(0, 0, spanDays)
		} else {
			occ.End = instant.Add(duration)
		}

		// An override replaces timing and content for this one instance.
		ov, ok := overrides[iso]
		if !ok {
			ov, ok = overrides[day]
		}
		if ok {
			occ.Event = ov
			if !ov.Start.IsZero() {
				occ.Start = ov.Start
				occ.End = model.EnsureEnd(ov.Start, ov.End, ov.AllDay)
			}
		}

		if !occ.End.After(occ.Start) {
			continue
		}
		if !model.Overlaps(occ.Start, occ.End, w.Start, w.End) {
			continue
		}

		rid := instant
		occ.RecurrenceID = &rid
		out = append(out, occ)
	}

	return out, hitCap
}

// calendarDays counts whole local days between two midnights, at least 1.
func calendarDays(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	n := int(e.Sub(s).Hours() / 24)
	if n < 1 {
		n = 1
	}
	return n
}
