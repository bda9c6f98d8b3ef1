package ics

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrEmptyDocument is returned for an empty or whitespace-only body.
	ErrEmptyDocument = errors.New("ics: empty document")
	// ErrNotCalendar is returned when the body has no VCALENDAR, which
	// usually means a provider answered with an HTML or JSON error page.
	ErrNotCalendar = errors.New("ics: document has no VCALENDAR")
	// ErrNoValidEvents is returned when a document contains VEVENT blocks
	// but every one of them was incomplete.
	ErrNoValidEvents = errors.New("ics: no valid events in document")
)

// ParsedEvent is the normalized representation of a VEVENT.
type ParsedEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string

	// Start is a UTC instant, or UTC midnight of the date for all-day events.
	Start time.Time
	// End is nil when the VEVENT has no DTEND.
	End    *time.Time
	AllDay bool

	// RRule is the raw RRULE value; it is not expanded here.
	RRule string
}

var (
	dateRe     = regexp.MustCompile(`^\d{8}$`)
	dateTimeRe = regexp.MustCompile(`^\d{8}T\d{6}Z?$`)
)

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)

// Parse tokenizes and parses an ICS body into events.
//
// A calendar with no VEVENT blocks is valid and yields an empty, non-nil
// slice. Incomplete events (no UID, SUMMARY or usable DTSTART) are
// dropped; only if every VEVENT block is dropped does Parse fail.
func Parse(body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyDocument
	}
	return ParseLines(Tokenize(string(body)))
}

// ParseLines runs the VEVENT state machine over already tokenized lines.
// Properties of components nested inside a VEVENT (VALARM) are ignored.
// A VEVENT left open by a following BEGIN:VEVENT, by END:VCALENDAR or by
// the end of input is dropped without affecting its neighbours.
func ParseLines(lines []Line) ([]ParsedEvent, error) {
	var (
		events      = make([]ParsedEvent, 0)
		sawCalendar bool
		inEvent     bool
		depth       int
		blocks      int
		cur         eventBuilder
	)

	for _, l := range lines {
		switch l.Name {
		case "BEGIN":
			comp := strings.ToUpper(strings.TrimSpace(l.Value))
			switch {
			case comp == "VEVENT":
				// A VEVENT never nests; an open one lost its END and is dropped.
				if inEvent {
					blocks++
				}
				inEvent = true
				depth = 0
				cur = eventBuilder{}
			case inEvent:
				depth++
			case comp == "VCALENDAR":
				sawCalendar = true
			}
			continue

		case "END":
			if !inEvent {
				continue
			}
			switch comp := strings.ToUpper(strings.TrimSpace(l.Value)); {
			case comp == "VEVENT":
				inEvent = false
				blocks++
				if ev, ok := cur.build(); ok {
					events = append(events, ev)
				}
			case comp == "VCALENDAR":
				inEvent = false
				blocks++
			case depth > 0:
				depth--
			}
			continue
		}

		if inEvent && depth == 0 {
			cur.set(l)
		}
	}
	if inEvent {
		blocks++
	}

	if !sawCalendar {
		return nil, ErrNotCalendar
	}
	if blocks > 0 && len(events) == 0 {
		return nil, ErrNoValidEvents
	}
	return events, nil
}

// eventBuilder accumulates properties of the VEVENT being parsed.
type eventBuilder struct {
	ev       ParsedEvent
	hasStart bool
}

func (b *eventBuilder) set(l Line) {
	switch l.Name {
	case "UID":
		b.ev.UID = strings.TrimSpace(l.Value)
	case "SUMMARY":
		b.ev.Summary = UnescapeText(l.Value)
	case "DESCRIPTION":
		b.ev.Description = UnescapeText(l.Value)
	case "LOCATION":
		b.ev.Location = UnescapeText(l.Value)
	case "DTSTART":
		if t, allDay, ok := decodeTime(l.Value); ok {
			b.ev.Start = t
			b.ev.AllDay = allDay
			b.hasStart = true
		}
	case "DTEND":
		if t, _, ok := decodeTime(l.Value); ok {
			b.ev.End = &t
		}
	case "RRULE":
		b.ev.RRule = strings.TrimSpace(l.Value)
	}
}

func (b *eventBuilder) build() (ParsedEvent, bool) {
	if b.ev.UID == "" || strings.TrimSpace(b.ev.Summary) == "" || !b.hasStart {
		return ParsedEvent{}, false
	}
	return b.ev, true
}

// decodeTime decodes a DATE or DATE-TIME value. Date-times without a
// trailing 'Z' are read as UTC; TZID parameters are not resolved.
func decodeTime(v string) (t time.Time, allDay bool, ok bool) {
	v = strings.TrimSpace(v)
	switch {
	case dateRe.MatchString(v):
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, false, false
		}
		return d, true, true
	case dateTimeRe.MatchString(v):
		dt, err := time.Parse(dateTimeLayout, strings.TrimSuffix(v, "Z"))
		if err != nil {
			return time.Time{}, false, false
		}
		return dt, false, true
	}
	return time.Time{}, false, false
}
