package web

import (
	"net/http"
	"time"

	"studycal/internal/ics"
	appLog "studycal/internal/log"
	"studycal/internal/model"
)

// maxOccurrencesPerEvent caps RRULE expansion for one event per request.
const maxOccurrencesPerEvent = 5000

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	TruncatedUIDs   []string           `json:"truncated_uids,omitempty"`
	RangeStart      time.Time          `json:"range_start"`
	RangeEnd        time.Time          `json:"range_end"`
	DisplayTimeZone string             `json:"display_timezone"`
}

// handleEvents returns expanded occurrences of the caller's mirrored
// external events within a window around now.
//
// GET /api/events?days=7&backfill=1&tz=Europe/Berlin
//   - days:     days ahead to include (default 7)
//   - backfill: days back to include (default 1)
//   - tz:       IANA zone for timed occurrences (default UTC)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, owner string) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	loc := resolveLocation(q.Get("tz"))

	now := s.now().In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	events, err := s.store.Events(r.Context(), owner)
	if err != nil {
		appLog.Error("api events: load failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	res, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
		DisplayLocation:        loc,
		RangeStart:             rangeStart,
		RangeEnd:               rangeEnd,
		MaxOccurrencesPerEvent: maxOccurrencesPerEvent,
	})
	if err != nil {
		appLog.Error("api events: expand failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	occ := res.Occurrences
	if occ == nil {
		occ = []model.Occurrence{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Occurrences:     occ,
		TruncatedUIDs:   res.TruncatedEvents,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	})
}

func resolveLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Warn("unknown timezone; falling back to UTC", "name", name)
		return time.UTC
	}
	return loc
}
