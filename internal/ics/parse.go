package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "wallcal/internal/log"
)

const dateKeyLayout = "2006-01-02"

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion will operate on this type.
type ParsedEvent struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Status      string

	Start  time.Time
	End    time.Time // zero when DTEND/DURATION is absent or malformed
	AllDay bool

	RawRRule string
	// ExDates holds instant keys (UTC RFC3339) for date-time exceptions and
	// date keys (YYYY-MM-DD) for date-only ones.
	ExDates map[string]struct{}

	// RecurrenceID is set on override VEVENTs. RecurrenceKey uses the same
	// key form as ExDates.
	RecurrenceID  *time.Time
	RecurrenceKey string
}

// IsOverride reports whether this VEVENT replaces one recurring instance.
func (e ParsedEvent) IsOverride() bool {
	return e.RecurrenceID != nil
}

// Calendar is a parsed feed document.
type Calendar struct {
	// Name is the declared calendar name (X-WR-CALNAME or NAME), if any.
	Name   string
	Events []ParsedEvent
}

// ParseICS parses a single ICS payload.
//
//   - Date-only values become midnight in loc and mark the event all-day.
//   - TZID parameters are resolved with time.LoadLocation; unknown zones
//     fall back to loc, as do floating date-times.
//   - It records RRULE/EXDATE/RECURRENCE-ID but does not expand recurrences;
//     expansion is done in expand.go.
//
// A VEVENT without UID or with an unusable DTSTART is logged and skipped.
func ParseICS(src Source, body []byte, loc *time.Location) (Calendar, error) {
	var out Calendar
	if len(bytes.TrimSpace(body)) == 0 {
		return out, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("parse calendar: %w", err)
	}

	out.Name = calendarName(cal)
	out.Events = make([]ParsedEvent, 0, len(cal.Events()))

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Debug("ics vevent skipped", "id", src.ID, "url", appLog.RedactURL(src.URL), "reason", perr.Error())
			continue
		}
		out.Events = append(out.Events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", appLog.RedactURL(src.URL), "event_count", len(out.Events))
	return out, nil
}

func calendarName(cal *ical.Calendar) string {
	var name string
	for _, p := range cal.CalendarProperties {
		switch strings.ToUpper(p.IANAToken) {
		case "X-WR-CALNAME":
			if v := strings.TrimSpace(p.Value); v != "" {
				return v
			}
		case "NAME":
			if name == "" {
				name = strings.TrimSpace(p.Value)
			}
		}
	}
	return name
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	// SEQUENCE (optional, used to pick the newest revision)
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Status = strings.ToLower(propValue(ve, ical.ComponentPropertyStatus))

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, dateOnly, err := parseTimeProp(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.AllDay = dateOnly

	// A malformed DTEND is treated as missing; normalization synthesizes one.
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, _, err := parseTimeProp(dtEnd.Value, dtEnd.ICalParameters, loc); err == nil {
			out.End = end
		}
	} else if dur := ve.GetProperty(ical.ComponentProperty("DURATION")); dur != nil {
		if d, err := parseDuration(dur.Value); err == nil {
			if out.AllDay && d%(24*time.Hour) == 0 {
				out.End = start.AddDate(0, 0, int(d/(24*time.Hour)))
			} else {
				out.End = start.Add(d)
			}
		}
	}

	// RRULE (we only keep raw string here; expansion will be in expand.go).
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	// EXDATE can appear multiple times, each with a comma separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, dateOnly, err := parseTimeProp(part, p.ICalParameters, loc)
			if err != nil {
				continue
			}
			if out.ExDates == nil {
				out.ExDates = make(map[string]struct{})
			}
			out.ExDates[occurrenceKey(t, dateOnly)] = struct{}{}
		}
	}

	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, dateOnly, err := parseTimeProp(p.Value, p.ICalParameters, loc); err == nil {
			out.RecurrenceID = &t
			out.RecurrenceKey = occurrenceKey(t, dateOnly)
		}
	}

	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// parseTimeProp parses a DATE or DATE-TIME value. It returns dateOnly=true
// for VALUE=DATE or values without a time part.
func parseTimeProp(v string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	isDate := !strings.Contains(v, "T")
	if vs, ok := params[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}

	if isDate {
		if len(v) > 8 {
			v = v[:8]
		}
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	// Local date-time, resolved against TZID when present.
	zone := loc
	if tzs, ok := params[string(ical.ParameterTzid)]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(strings.Trim(tzs[0], `"`)); err == nil {
			zone = l
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, zone)
	return t, false, err
}

// occurrenceKey returns the lookup key used for EXDATE and RECURRENCE-ID
// matching: a date key for date-only values, else the UTC instant.
func occurrenceKey(t time.Time, dateOnly bool) string {
	if dateOnly {
		return t.Format(dateKeyLayout)
	}
	return instantKey(t)
}

func instantKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseDuration handles the RFC 5545 dur-value subset used in practice,
// e.g. "PT1H30M", "P1D", "P2W", "-PT15M".
func parseDuration(v string) (time.Duration, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	neg := false
	switch {
	case strings.HasPrefix(v, "-"):
		neg = true
		v = v[1:]
	case strings.HasPrefix(v, "+"):
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	v = v[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, err
		}
		num = ""
		switch {
		case r == 'W' && !inTime:
			total += time.Duration(n) * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += time.Duration(n) * 24 * time.Hour
		case r == 'H' && inTime:
			total += time.Duration(n) * time.Hour
		case r == 'M' && inTime:
			total += time.Duration(n) * time.Minute
		case r == 'S' && inTime:
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if neg {
		total = -total
	}
	return total, nil
}
