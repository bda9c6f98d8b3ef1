// Package syncer mirrors an owner's external ICS feeds into the store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studycal/internal/ics"
	appLog "studycal/internal/log"
	"studycal/internal/model"
)

// ErrCalendarNotFound is returned when a specific calendar was requested
// that the owner does not have.
var ErrCalendarNotFound = errors.New("calendar not found")

type Storage interface {
	Calendar(_ context.Context, ownerID, id string) (model.ExternalCalendar, error)
	EnabledCalendars(_ context.Context, ownerID string) ([]model.ExternalCalendar, error)
	ReplaceEvents(_ context.Context, ownerID, calendarID string, _ []model.ExternalEvent, batchSize int) (int, error)
	MarkSynced(_ context.Context, ownerID, id string, _ time.Time) error
}

type Fetcher interface {
	Fetch(_ context.Context, url string) ([]byte, error)
}

// Result is the outcome for one calendar. Exactly one of EventsCount and
// Error is set.
type Result struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	EventsCount *int   `json:"eventsCount,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Report aggregates one Result per calendar attempted, in order.
type Report struct {
	Results []Result `json:"results"`
}

// Failed returns the number of calendars that did not sync.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Error != "" {
			n++
		}
	}
	return n
}

// Summary is a one-line human description such as
// "2 of 3 calendars synced; Outlook failed".
func (r Report) Summary() string {
	failed := r.Failed()
	if failed == 0 {
		total := 0
		for _, res := range r.Results {
			if res.EventsCount != nil {
				total += *res.EventsCount
			}
		}
		return fmt.Sprintf("synced %d events from %d calendars", total, len(r.Results))
	}
	var names string
	for _, res := range r.Results {
		if res.Error == "" {
			continue
		}
		if names != "" {
			names += ", "
		}
		names += res.Name
	}
	return fmt.Sprintf("%d of %d calendars synced; %s failed", len(r.Results)-failed, len(r.Results), names)
}

type Syncer struct {
	storage   Storage
	fetcher   Fetcher
	batchSize int
	now       func() time.Time
}

func New(storage Storage, fetcher Fetcher, batchSize int) *Syncer {
	return &Syncer{
		storage:   storage,
		fetcher:   fetcher,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Sync refreshes one calendar (calendarID set) or every enabled calendar of
// the owner. Calendars run one after another; a failure is recorded in that
// calendar's Result and never stops the others or touches their data.
// The returned error only covers resolving which calendars to sync.
func (s *Syncer) Sync(ctx context.Context, ownerID, calendarID string) (Report, error) {
	cals, err := s.targets(ctx, ownerID, calendarID)
	if err != nil {
		return Report{}, err
	}

	report := Report{Results: make([]Result, 0, len(cals))}
	for _, cal := range cals {
		res := Result{ID: cal.ID, Name: cal.Name}
		n, err := s.SyncCalendar(ctx, cal)
		if err != nil {
			appLog.Warn("sync: calendar failed", "owner", ownerID, "calendar", cal.ID, "name", cal.Name, "err", err)
			res.Error = err.Error()
		} else {
			res.EventsCount = &n
		}
		report.Results = append(report.Results, res)
	}
	appLog.Info("sync: done", "owner", ownerID, "calendars", len(cals), "failed", report.Failed())
	return report, nil
}

func (s *Syncer) targets(ctx context.Context, ownerID, calendarID string) ([]model.ExternalCalendar, error) {
	if calendarID == "" {
		cals, err := s.storage.EnabledCalendars(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("listing calendars: %w", err)
		}
		return cals, nil
	}
	// An explicitly named calendar syncs even when disabled.
	cal, err := s.storage.Calendar(ctx, ownerID, calendarID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCalendarNotFound, calendarID, err)
	}
	return []model.ExternalCalendar{cal}, nil
}

// SyncCalendar runs fetch, parse and replace for one calendar and returns
// the number of stored events. Stored events are left as they were on any
// error.
func (s *Syncer) SyncCalendar(ctx context.Context, cal model.ExternalCalendar) (int, error) {
	start := s.now()

	body, err := s.fetcher.Fetch(ctx, cal.URL)
	if err != nil {
		return 0, err
	}
	parsed, err := ics.Parse(body)
	if err != nil {
		return 0, fmt.Errorf("parse: %w", err)
	}

	events := toExternal(cal, parsed)
	n, err := s.storage.ReplaceEvents(ctx, cal.OwnerID, cal.ID, events, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("persist: %w", err)
	}
	if err := s.storage.MarkSynced(ctx, cal.OwnerID, cal.ID, s.now()); err != nil {
		return 0, fmt.Errorf("persist: %w", err)
	}

	appLog.Debug("sync: calendar done",
		"calendar", cal.ID,
		"parsed", len(parsed),
		"stored", n,
		"elapsed", s.now().Sub(start).Round(time.Millisecond),
	)
	return n, nil
}

// toExternal converts parsed events, collapsing repeated UIDs. Feeds repeat
// a UID for RECURRENCE-ID overrides; the recurrence master is preferred,
// otherwise the first occurrence wins.
func toExternal(cal model.ExternalCalendar, parsed []ics.ParsedEvent) []model.ExternalEvent {
	events := make([]model.ExternalEvent, 0, len(parsed))
	index := make(map[string]int, len(parsed))
	for _, p := range parsed {
		ev := model.ExternalEvent{
			CalendarID:  cal.ID,
			OwnerID:     cal.OwnerID,
			UID:         p.UID,
			Title:       p.Summary,
			Description: p.Description,
			Location:    p.Location,
			Start:       p.Start,
			End:         p.End,
			AllDay:      p.AllDay,
			RRule:       p.RRule,
		}
		if i, ok := index[p.UID]; ok {
			if events[i].RRule == "" && ev.RRule != "" {
				events[i] = ev
			}
			continue
		}
		index[p.UID] = len(events)
		events = append(events, ev)
	}
	return events
}
