package ics

import (
	"strings"
	"time"
)

// crlf converts a readable fixture into wire format.
func crlf(s string) []byte {
	s = strings.TrimLeft(s, "\n")
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

var familyFeed = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//wallcal//test//EN
X-WR-CALNAME:Family
BEGIN:VEVENT
UID:standup@example.com
DTSTART:20250106T090000Z
DTEND:20250106T093000Z
RRULE:FREQ=DAILY;COUNT=3
EXDATE:20250107T090000Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:dentist@example.com
DTSTART:20250110T150000Z
DTEND:20250110T160000Z
SUMMARY:Dentist
LOCATION:Main St
END:VEVENT
END:VCALENDAR
`

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func january2025() Window {
	return Window{Start: utc(2025, 1, 1, 0, 0), End: utc(2025, 2, 1, 0, 0)}
}
