// Package merge collapses events that several calendars report for the same
// real-world occurrence.
package merge

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"wallcal/internal/model"
)

// Key builds the merge key (summary, start, end, allDay, location).
func Key(ev model.Event) string {
	allDay := "0"
	if ev.AllDay {
		allDay = "1"
	}
	return strings.Join([]string{
		ev.Summary,
		instant(ev.Start),
		instant(ev.End),
		allDay,
		ev.Location,
	}, "||")
}

func instant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Events returns the merged event stream sorted by start. When enabled is
// false, every event passes through with single-element provenance lists.
//
// Events colliding on the key but coming from a calendar already present in
// the accumulated entry are kept as separate entries.
func Events(events []model.Event, enabled bool) []model.MergedEvent {
	out := make([]*model.MergedEvent, 0, len(events))
	byKey := make(map[string]*model.MergedEvent, len(events))

	for _, ev := range events {
		if !enabled {
			out = append(out, seed(ev))
			continue
		}

		key := Key(ev)
		existing, ok := byKey[key]
		if !ok {
			m := seed(ev)
			byKey[key] = m
			out = append(out, m)
			continue
		}

		if ev.CalendarID != "" && slices.Contains(existing.CalendarIDs, ev.CalendarID) {
			fallback := key + "||" + ev.ID
			if ev.ID == "" {
				fallback = key + "||" + strconv.Itoa(len(existing.CalendarIDs))
			}
			// Never replace an entry already stored under the fallback key.
			for n := 1; byKey[fallback] != nil; n++ {
				fallback = key + "||" + ev.ID + "#" + strconv.Itoa(n)
			}
			m := seed(ev)
			byKey[fallback] = m
			out = append(out, m)
			continue
		}

		existing.CalendarColors = appendUnique(existing.CalendarColors, ev.CalendarColor)
		existing.CalendarLabels = appendUnique(existing.CalendarLabels, ev.CalendarLabel)
		existing.CalendarIDs = appendUnique(existing.CalendarIDs, ev.CalendarID)
	}

	result := make([]model.MergedEvent, len(out))
	for i, m := range out {
		result[i] = *m
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Start.Before(result[j].Start)
	})
	return result
}

func seed(ev model.Event) *model.MergedEvent {
	return &model.MergedEvent{
		Event:          ev,
		CalendarColors: appendUnique(make([]string, 0, 1), ev.CalendarColor),
		CalendarLabels: appendUnique(make([]string, 0, 1), ev.CalendarLabel),
		CalendarIDs:    appendUnique(make([]string, 0, 1), ev.CalendarID),
	}
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// Flatten turns merged events back into plain events, one per entry, so a
// merged stream can be re-merged.
func Flatten(merged []model.MergedEvent) []model.Event {
	out := make([]model.Event, len(merged))
	for i, m := range merged {
		out[i] = m.Event
	}
	return out
}
