package model

import "time"

// DefaultCalendarColor is used when neither configuration nor the provider
// supplies a color for a calendar.
const DefaultCalendarColor = "#2b6f6b"

// UntitledSummary replaces an empty event summary.
const UntitledSummary = "Untitled event"

// Event status values.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// CalendarSource is one configured origin of events.
type CalendarSource struct {
	ID      string `yaml:"id" json:"id" koanf:"id"`
	Label   string `yaml:"label" json:"label" koanf:"label"`
	Color   string `yaml:"color" json:"color" koanf:"color"`
	Enabled bool   `yaml:"enabled" json:"enabled" koanf:"enabled"`
}

// Event is the canonical, source-independent unit consumed by the rest of
// the system. Start/End are absolute instants; all-day events start at
// local midnight of their first day.
type Event struct {
	ID            string `json:"id"`
	CalendarID    string `json:"calendarId"`
	CalendarLabel string `json:"calendarLabel"`
	CalendarColor string `json:"calendarColor"`

	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`

	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"allDay"`
	Status string    `json:"status"`
}

// MergedEvent is an Event whose calendar provenance is generalized to lists.
type MergedEvent struct {
	Event
	CalendarColors []string `json:"calendarColors"`
	CalendarLabels []string `json:"calendarLabels"`
	CalendarIDs    []string `json:"calendarIds"`
}

// Range is the window for which a cache is complete.
type Range struct {
	TimeMin time.Time `json:"timeMin"`
	TimeMax time.Time `json:"timeMax"`
}

// Contains reports whether other lies entirely inside r.
func (r Range) Contains(other Range) bool {
	return !other.TimeMin.Before(r.TimeMin) && !other.TimeMax.After(r.TimeMax)
}

// EventCache is the persisted state of the range cache. Range is nil until
// the first successful sync.
type EventCache struct {
	UpdatedAt *time.Time `json:"updatedAt"`
	Range     *Range     `json:"range"`
	Events    []Event    `json:"events"`
}

// FeedError records a single source that failed during a sync.
type FeedError struct {
	Feed    string `json:"feed"`
	Message string `json:"message"`
}

// SourceResult is what one source kind contributes to a sync. Errors holds
// isolated per-calendar failures that did not fail the source as a whole.
type SourceResult struct {
	Events    []Event
	Calendars int
	Errors    []FeedError
}

// SyncSummary is returned by a successful (possibly partial) sync.
type SyncSummary struct {
	RunID         string      `json:"runId"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	EventCount    int         `json:"eventCount"`
	CalendarCount int         `json:"calendarCount"`
	Errors        []FeedError `json:"errors"`
}

// EnsureEnd returns an end strictly after start. A missing or non-positive
// end becomes start + 1h for timed events and start + 1 day for all-day ones.
func EnsureEnd(start, end time.Time, allDay bool) time.Time {
	if !end.IsZero() && end.After(start) {
		return end
	}
	if allDay {
		return start.AddDate(0, 0, 1)
	}
	return start.Add(time.Hour)
}

// Overlaps reports whether [start, end) intersects [rangeStart, rangeEnd).
func Overlaps(start, end, rangeStart, rangeEnd time.Time) bool {
	return start.Before(rangeEnd) && end.After(rangeStart)
}
