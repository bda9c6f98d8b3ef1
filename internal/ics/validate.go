package ics

import (
	"bytes"
	"fmt"

	ical "github.com/arran4/golang-ical"
)

// Validate checks a generated document with an independent RFC 5545
// parser and returns its VEVENT count. Every VEVENT must carry a UID and
// DTSTART.
func Validate(doc []byte) (int, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(doc))
	if err != nil {
		return 0, fmt.Errorf("ics: generated document rejected: %w", err)
	}

	events := cal.Events()
	for i, ev := range events {
		if p := ev.GetProperty(ical.ComponentPropertyUniqueId); p == nil || p.Value == "" {
			return 0, fmt.Errorf("ics: generated VEVENT %d has no UID", i)
		}
		if p := ev.GetProperty(ical.ComponentPropertyDtStart); p == nil || p.Value == "" {
			return 0, fmt.Errorf("ics: generated VEVENT %d has no DTSTART", i)
		}
	}
	return len(events), nil
}
