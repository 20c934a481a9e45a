// Package layout packs events into the display grid: multi-day events into
// stacked rows per week, single-day events into capped day cells.
package layout

import (
	"sort"
	"time"

	"wallcal/internal/model"
)

const dateKeyLayout = "2006-01-02"

// Segment is the visible part of one multi-day event within a week.
type Segment struct {
	Event        model.MergedEvent `json:"event"`
	StartIndex   int               `json:"startIndex"`
	EndIndex     int               `json:"endIndex"`
	StartsBefore bool              `json:"startsBefore"`
	EndsAfter    bool              `json:"endsAfter"`
}

func (s Segment) span() int { return s.EndIndex - s.StartIndex }

func (s Segment) overlaps(o Segment) bool {
	return s.StartIndex <= o.EndIndex && s.EndIndex >= o.StartIndex
}

// Week is seven display slots; nil marks an out-of-month placeholder.
type Week [7]*time.Time

// DateKey is the local calendar date of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateKeyLayout)
}

// IsMultiDay reports whether ev crosses a local-date boundary. All-day
// events must span more than one calendar date; timed events only need the
// end to land on a different date than the start.
func IsMultiDay(ev model.Event, loc *time.Location) bool {
	if ev.End.IsZero() || !ev.End.After(ev.Start) {
		return false
	}
	if ev.AllDay {
		return calendarDays(ev.Start, ev.End, loc) > 1
	}
	return DateKey(ev.Start, loc) != DateKey(ev.End, loc)
}

// EventOccursOnDateKey reports whether ev is shown on the local date key.
func EventOccursOnDateKey(ev model.Event, key string, loc *time.Location) bool {
	day, err := time.ParseInLocation(dateKeyLayout, key, loc)
	if err != nil {
		return false
	}
	end := model.EnsureEnd(ev.Start, ev.End, ev.AllDay)

	if ev.AllDay {
		startKey := DateKey(ev.Start, loc)
		endKey := DateKey(end, loc)
		if endKey <= startKey {
			endKey = DateKey(ev.Start.In(loc).AddDate(0, 0, 1), loc)
		}
		return key >= startKey && key < endKey
	}
	return model.Overlaps(ev.Start, end, day, day.AddDate(0, 0, 1))
}

// BuildMultiDayRows assigns every multi-day event visible in week to the
// first row where it does not share a day with another segment. Segments
// are placed in (start index, widest span, earliest start) order.
func BuildMultiDayRows(week Week, events []model.MergedEvent, loc *time.Location) [][]Segment {
	first, last := -1, -1
	keys := [7]string{}
	for i, d := range week {
		if d == nil {
			continue
		}
		keys[i] = DateKey(*d, loc)
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return [][]Segment{}
	}
	visibleStart := startOfDay(*week[first], loc)
	visibleEnd := startOfDay(*week[last], loc).AddDate(0, 0, 1)

	var segments []Segment
	for _, ev := range events {
		if !IsMultiDay(ev.Event, loc) {
			continue
		}
		start, end := -1, -1
		for i, key := range keys {
			if key == "" || !EventOccursOnDateKey(ev.Event, key, loc) {
				continue
			}
			if start < 0 {
				start = i
			}
			end = i
		}
		if start < 0 {
			continue
		}
		evEnd := model.EnsureEnd(ev.Start, ev.End, ev.AllDay)
		segments = append(segments, Segment{
			Event:        ev,
			StartIndex:   start,
			EndIndex:     end,
			StartsBefore: ev.Start.Before(visibleStart),
			EndsAfter:    evEnd.After(visibleEnd),
		})
	}

	sort.SliceStable(segments, func(i, j int) bool {
		a, b := segments[i], segments[j]
		if a.StartIndex != b.StartIndex {
			return a.StartIndex < b.StartIndex
		}
		if a.span() != b.span() {
			return a.span() > b.span()
		}
		if !a.Event.Start.Equal(b.Event.Start) {
			return a.Event.Start.Before(b.Event.Start)
		}
		return a.Event.ID < b.Event.ID
	})

	rows := [][]Segment{}
	for _, seg := range segments {
		placed := false
		for r := range rows {
			if !collides(rows[r], seg) {
				rows[r] = append(rows[r], seg)
				placed = true
				break
			}
		}
		if !placed {
			rows = append(rows, []Segment{seg})
		}
	}
	return rows
}

func collides(row []Segment, seg Segment) bool {
	for _, existing := range row {
		if existing.overlaps(seg) {
			return true
		}
	}
	return false
}

// DayEventLimit is the number of single-day events a cell shows.
//
// Grids of four weeks or fewer start at 4, denser grids at 3. Each
// multi-day row in the week takes one away. A narrow portrait display
// clamps the result to 2. A measured capacity can only lower the result.
func DayEventLimit(gridRows, multiDayRows int, narrowPortrait bool, measured *int) int {
	base := 3
	if gridRows <= 4 {
		base = 4
	}
	limit := max(0, base-multiDayRows)
	if measured != nil {
		return max(0, min(limit, *measured))
	}
	if narrowPortrait && limit > 2 {
		return 2
	}
	return limit
}

// PackOptions controls PackWeek.
type PackOptions struct {
	// GridRows is the number of weeks in the displayed grid.
	GridRows       int
	NarrowPortrait bool
	// Measured maps date keys to capacities reported by the rendered page.
	Measured map[string]int
	Location *time.Location
}

// DayLayout is one cell of a packed week. Placeholder cells have no Key.
type DayLayout struct {
	Key     string              `json:"key,omitempty"`
	Limit   int                 `json:"limit"`
	Visible []model.MergedEvent `json:"visible"`
	Hidden  int                 `json:"hidden"`
}

// WeekLayout is the packed form of one displayed week.
type WeekLayout struct {
	Rows [][]Segment  `json:"multiDayRows"`
	Days [7]DayLayout `json:"days"`
}

// PackWeek builds the multi-day rows for week and caps each day's
// single-day events. Hidden is the "+N more" count.
func PackWeek(week Week, events []model.MergedEvent, opts PackOptions) WeekLayout {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	out := WeekLayout{Rows: BuildMultiDayRows(week, events, loc)}

	for i, d := range week {
		day := DayLayout{Visible: []model.MergedEvent{}}
		if d == nil {
			out.Days[i] = day
			continue
		}
		day.Key = DateKey(*d, loc)

		var sameDay []model.MergedEvent
		for _, ev := range events {
			if IsMultiDay(ev.Event, loc) || !EventOccursOnDateKey(ev.Event, day.Key, loc) {
				continue
			}
			sameDay = append(sameDay, ev)
		}

		var measured *int
		if v, ok := opts.Measured[day.Key]; ok {
			measured = &v
		}
		day.Limit = DayEventLimit(opts.GridRows, len(out.Rows), opts.NarrowPortrait, measured)
		if len(sameDay) > day.Limit {
			day.Visible = append(day.Visible, sameDay[:day.Limit]...)
			day.Hidden = len(sameDay) - day.Limit
		} else {
			day.Visible = append(day.Visible, sameDay...)
		}
		out.Days[i] = day
	}
	return out
}

// MonthWeeks lays out a month as weeks starting on weekStart, padding the
// first and last week with nil placeholders.
func MonthWeeks(year int, month time.Month, weekStart time.Weekday, loc *time.Location) []Week {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	daysInMonth := first.AddDate(0, 1, -1).Day()
	lead := (int(first.Weekday()) - int(weekStart) + 7) % 7

	var weeks []Week
	var cur Week
	slot := lead
	for d := 1; d <= daysInMonth; d++ {
		date := time.Date(year, month, d, 0, 0, 0, 0, loc)
		cur[slot] = &date
		slot++
		if slot == 7 {
			weeks = append(weeks, cur)
			cur = Week{}
			slot = 0
		}
	}
	if slot > 0 {
		weeks = append(weeks, cur)
	}
	return weeks
}

// Weeks returns n consecutive full weeks, the first one containing date.
func Weeks(date time.Time, n int, weekStart time.Weekday, loc *time.Location) []Week {
	start := WeekStart(date, weekStart, loc)
	weeks := make([]Week, n)
	for w := range n {
		for i := range 7 {
			d := start.AddDate(0, 0, w*7+i)
			weeks[w][i] = &d
		}
	}
	return weeks
}

// WeekStart is local midnight of the first day of date's week.
func WeekStart(date time.Time, weekStart time.Weekday, loc *time.Location) time.Time {
	d := startOfDay(date, loc)
	back := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -back)
}

// ParseWeekday maps "monday" to time.Monday; anything else is Sunday.
func ParseWeekday(s string) time.Weekday {
	if s == "monday" {
		return time.Monday
	}
	return time.Sunday
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// calendarDays counts local dates from start's to end's.
func calendarDays(start, end time.Time, loc *time.Location) int {
	s := startOfDay(start, loc)
	e := startOfDay(end, loc)
	a := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
