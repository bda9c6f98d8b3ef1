package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// DefaultTimedDuration applies to timed events stored without DTEND.
	DefaultTimedDuration = time.Hour
	// DefaultAllDayDuration applies to all-day events stored without DTEND.
	DefaultAllDayDuration = 24 * time.Hour
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.UTC is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and the UIDs whose
// expansion was truncated.
type ExpandResult struct {
	Occurrences     []model.Occurrence
	TruncatedEvents []string
}

// ExpandOccurrences expands stored events into concrete occurrences that
// overlap the configured range. Events with an RRULE are expanded with
// rrule-go; events whose RRULE does not parse are treated as single.
func ExpandOccurrences(events []model.ExternalEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	result.Occurrences = make([]model.Occurrence, 0)
	for _, ev := range events {
		occ, hitCap := expandEvent(ev, cfg)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Warn("expand: truncated occurrences due to cap", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		}
		result.Occurrences = append(result.Occurrences, occ...)
	}
	return result, nil
}

// Duration returns the event length, defaulting when End is nil.
func Duration(ev model.ExternalEvent) time.Duration {
	if ev.End != nil && ev.End.After(ev.Start) {
		return ev.End.Sub(ev.Start)
	}
	if ev.AllDay {
		return DefaultAllDayDuration
	}
	return DefaultTimedDuration
}

func expandEvent(ev model.ExternalEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	dur := Duration(ev)

	if ev.RRule == "" {
		return expandSingle(ev, dur, cfg), false
	}

	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("expand: failed to parse RRULE; treating as single event", "uid", ev.UID, "rrule", ev.RRule, "err", err)
		return expandSingle(ev, dur, cfg), false
	}
	r.DTStart(ev.Start)

	// Widen the lower bound so occurrences that started before the range
	// but are still running are included.
	starts := r.Between(cfg.RangeStart.Add(-dur), cfg.RangeEnd, true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		e := s.Add(dur)
		if !overlaps(s, e, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(ev, s, e, cfg.DisplayLocation))
	}
	return out, hitCap
}

func expandSingle(ev model.ExternalEvent, dur time.Duration, cfg ExpandConfig) []model.Occurrence {
	end := ev.Start.Add(dur)
	if !overlaps(ev.Start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(ev, ev.Start, end, cfg.DisplayLocation)}
}

// makeOccurrence converts an event + specific start/end into a
// model.Occurrence. All-day occurrences keep their UTC date so they do
// not drift across days in the display zone.
func makeOccurrence(ev model.ExternalEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	if !ev.AllDay {
		start = start.In(displayLoc)
		end = end.In(displayLoc)
	}
	return model.Occurrence{
		CalendarID:  ev.CalendarID,
		UID:         ev.UID,
		InstanceKey: start.UTC().Format(time.RFC3339),
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd].
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aEnd.After(bStart) && !aStart.After(bEnd)
}
