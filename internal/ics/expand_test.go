package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func daily(start time.Time, dur time.Duration, rule string) ParsedEvent {
	return ParsedEvent{
		UID:      "standup",
		Summary:  "Standup",
		Start:    start,
		End:      start.Add(dur),
		RawRRule: rule,
	}
}

func startDays(occ []Occurrence) []int {
	out := make([]int, 0, len(occ))
	for _, o := range occ {
		out = append(out, o.Start.UTC().Day())
	}
	return out
}

func TestExpandSuppressesExceptions(t *testing.T) {
	ev := daily(utc(2025, 1, 6, 9, 0), 30*time.Minute, "FREQ=DAILY;COUNT=5")
	ev.ExDates = map[string]struct{}{"2025-01-08T09:00:00Z": {}}

	occ, capped := Expand(ev, nil, january2025(), 0)
	require.False(t, capped)
	assert.Equal(t, []int{6, 7, 9, 10}, startDays(occ))
	for _, o := range occ {
		assert.Equal(t, 30*time.Minute, o.End.Sub(o.Start))
		require.NotNil(t, o.RecurrenceID)
	}
}

func TestExpandExceptionByDateKey(t *testing.T) {
	ev := daily(utc(2025, 1, 6, 9, 0), time.Hour, "FREQ=DAILY;COUNT=3")
	ev.ExDates = map[string]struct{}{"2025-01-07": {}}

	occ, _ := Expand(ev, nil, january2025(), 0)
	assert.Equal(t, []int{6, 8}, startDays(occ))
}

func TestExpandOverrideReplacesInstance(t *testing.T) {
	ev := daily(utc(2025, 1, 6, 9, 0), 30*time.Minute, "FREQ=DAILY;COUNT=3")
	rid := utc(2025, 1, 7, 9, 0)
	overrides := map[string]ParsedEvent{
		"2025-01-07T09:00:00Z": {
			UID:           "standup",
			Summary:       "Standup (moved)",
			Start:         utc(2025, 1, 7, 14, 0),
			End:           utc(2025, 1, 7, 15, 0),
			RecurrenceID:  &rid,
			RecurrenceKey: "2025-01-07T09:00:00Z",
		},
	}

	occ, _ := Expand(ev, overrides, january2025(), 0)
	require.Len(t, occ, 3)

	var jan7 []Occurrence
	for _, o := range occ {
		if o.Start.UTC().Day() == 7 {
			jan7 = append(jan7, o)
		}
	}
	require.Len(t, jan7, 1, "override must not duplicate the instance")
	assert.Equal(t, utc(2025, 1, 7, 14, 0), jan7[0].Start)
	assert.Equal(t, utc(2025, 1, 7, 15, 0), jan7[0].End)
	assert.Equal(t, "Standup (moved)", jan7[0].Event.Summary)
	assert.True(t, rid.Equal(*jan7[0].RecurrenceID), "recurrence id stays the generating instant")
}

func TestExpandAllDayKeepsLocalMidnight(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := time.Date(2025, 3, 8, 0, 0, 0, 0, ny)
	ev := ParsedEvent{
		UID:      "trash",
		Start:    start,
		End:      start.AddDate(0, 0, 1),
		AllDay:   true,
		RawRRule: "FREQ=DAILY;COUNT=3",
		ExDates:  map[string]struct{}{"2025-03-09": {}},
	}
	w := Window{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, ny), End: time.Date(2025, 4, 1, 0, 0, 0, 0, ny)}

	occ, _ := Expand(ev, nil, w, 0)
	require.Len(t, occ, 2)
	// Mar 10 follows the DST change; the instance still spans one local day.
	last := occ[1]
	assert.True(t, time.Date(2025, 3, 10, 0, 0, 0, 0, ny).Equal(last.Start))
	assert.True(t, time.Date(2025, 3, 11, 0, 0, 0, 0, ny).Equal(last.End))
}

func TestExpandIncludesInstanceRunningIntoWindow(t *testing.T) {
	// Weekly three-day block starting Fridays; the window begins on a Sunday.
	ev := daily(utc(2025, 1, 3, 0, 0), 72*time.Hour, "FREQ=WEEKLY;COUNT=2")
	w := Window{Start: utc(2025, 1, 5, 0, 0), End: utc(2025, 1, 6, 0, 0)}

	occ, _ := Expand(ev, nil, w, 0)
	require.Len(t, occ, 1)
	assert.True(t, utc(2025, 1, 3, 0, 0).Equal(occ[0].Start))
}

func TestExpandBoundaryInstants(t *testing.T) {
	ev := daily(utc(2025, 1, 1, 0, 0), time.Hour, "FREQ=DAILY;COUNT=40")
	w := Window{Start: utc(2025, 1, 10, 0, 0), End: utc(2025, 1, 12, 0, 0)}

	occ, _ := Expand(ev, nil, w, 0)
	// Jan 12 00:00 is generated by the inclusive rule query but does not
	// overlap [start, end).
	assert.Equal(t, []int{10, 11}, startDays(occ))
}

func TestExpandSingleEvent(t *testing.T) {
	ev := ParsedEvent{UID: "a", Start: utc(2025, 1, 15, 10, 0)}

	occ, _ := Expand(ev, nil, january2025(), 0)
	require.Len(t, occ, 1)
	assert.Equal(t, time.Hour, occ[0].End.Sub(occ[0].Start), "missing end becomes +1h")
	assert.Nil(t, occ[0].RecurrenceID)

	outside := ParsedEvent{UID: "b", Start: utc(2025, 3, 1, 10, 0), End: utc(2025, 3, 1, 11, 0)}
	occ, _ = Expand(outside, nil, january2025(), 0)
	assert.Empty(t, occ)
}

func TestExpandBadRuleContributesNothing(t *testing.T) {
	ev := daily(utc(2025, 1, 6, 9, 0), time.Hour, "FREQ=SOMETIMES")
	occ, _ := Expand(ev, nil, january2025(), 0)
	assert.Empty(t, occ)
}

func TestExpandOccurrencesCapAndOrphans(t *testing.T) {
	rid := utc(2025, 1, 20, 9, 0)
	events := []ParsedEvent{
		daily(utc(2025, 1, 1, 0, 0), time.Minute, "FREQ=HOURLY"),
		{
			UID:           "orphan",
			Summary:       "Moved",
			Start:         utc(2025, 1, 20, 12, 0),
			End:           utc(2025, 1, 20, 13, 0),
			RecurrenceID:  &rid,
			RecurrenceKey: instantKey(rid),
		},
	}

	res, err := ExpandOccurrences(events, ExpandConfig{Window: january2025(), MaxOccurrencesPerEvent: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"standup"}, res.TruncatedEvents)
	require.Len(t, res.Occurrences, 11)

	orphan := res.Occurrences[10]
	assert.Equal(t, "Moved", orphan.Event.Summary)
	require.NotNil(t, orphan.RecurrenceID)
	assert.Equal(t, rid, *orphan.RecurrenceID)
}

func TestExpandOccurrencesPrefersHighestSequence(t *testing.T) {
	old := ParsedEvent{UID: "a", Seq: 1, Summary: "Old", Start: utc(2025, 1, 2, 9, 0)}
	newer := ParsedEvent{UID: "a", Seq: 2, Summary: "New", Start: utc(2025, 1, 2, 10, 0)}

	res, err := ExpandOccurrences([]ParsedEvent{newer, old}, ExpandConfig{Window: january2025()})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)
	assert.Equal(t, "New", res.Occurrences[0].Event.Summary)
}

func TestExpandOccurrencesRejectsInvertedWindow(t *testing.T) {
	w := january2025()
	w.Start, w.End = w.End, w.Start
	_, err := ExpandOccurrences(nil, ExpandConfig{Window: w})
	assert.Error(t, err)
}
