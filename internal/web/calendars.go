package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"studycal/internal/ics"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/store"
	"studycal/internal/syncer"
)

type syncRequest struct {
	Action     string `json:"action"`
	CalendarID string `json:"calendarId,omitempty"`
}

// handleSync runs the orchestrator for the caller and returns the report.
//
// POST /api/sync {"action":"sync","calendarId":"..."}
//
// Per-calendar failures are part of a 200 report; only an unknown
// calendar or a failure to list calendars is an error response. The sync
// runs to completion even if the client goes away; the fetcher's timeout
// bounds each calendar.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, owner string) {
	var req syncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action != "sync" {
		writeError(w, http.StatusBadRequest, `action must be "sync"`)
		return
	}

	report, err := s.syncer.Sync(context.WithoutCancel(r.Context()), owner, req.CalendarID)
	if errors.Is(err, syncer.ErrCalendarNotFound) {
		writeError(w, http.StatusNotFound, "calendar not found")
		return
	}
	if err != nil {
		appLog.Error("api sync failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type calendarsResponse struct {
	Calendars []model.ExternalCalendar `json:"calendars"`
}

func (s *Server) handleListCalendars(w http.ResponseWriter, r *http.Request, owner string) {
	cals, err := s.store.Calendars(r.Context(), owner)
	if err != nil {
		appLog.Error("api list calendars failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "failed to list calendars")
		return
	}
	if cals == nil {
		cals = []model.ExternalCalendar{}
	}
	writeJSON(w, http.StatusOK, calendarsResponse{Calendars: cals})
}

type createCalendarRequest struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	URL      string `json:"url"`
	Color    string `json:"color"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

type createCalendarResponse struct {
	Calendar model.ExternalCalendar `json:"calendar"`
	Sync     *syncer.Report         `json:"sync,omitempty"`
}

// handleCreateCalendar subscribes the caller to a new feed and, when the
// calendar is enabled, syncs it right away. A failing first sync still
// creates the calendar; the report carries the error.
func (s *Server) handleCreateCalendar(w http.ResponseWriter, r *http.Request, owner string) {
	var req createCalendarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cal, msg := req.calendar(owner)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.store.CreateCalendar(r.Context(), &cal); err != nil {
		appLog.Error("api create calendar failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "failed to create calendar")
		return
	}
	appLog.Info("calendar added", "owner", owner, "calendar", cal.ID, "provider", cal.Provider, "url", ics.RedactURL(cal.URL))

	resp := createCalendarResponse{Calendar: cal}
	if cal.Enabled {
		report, err := s.syncer.Sync(context.WithoutCancel(r.Context()), owner, cal.ID)
		if err != nil {
			appLog.Error("api initial sync failed", err, "owner", owner, "calendar", cal.ID)
		} else {
			resp.Sync = &report
			if fresh, err := s.store.Calendar(r.Context(), owner, cal.ID); err == nil {
				resp.Calendar = fresh
			}
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (req createCalendarRequest) calendar(owner string) (model.ExternalCalendar, string) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.ExternalCalendar{}, "name is required"
	}
	provider := model.Provider(strings.ToLower(strings.TrimSpace(req.Provider)))
	if provider == "" {
		provider = model.ProviderOther
	}
	if !provider.IsValid() {
		return model.ExternalCalendar{}, "provider must be one of google, outlook, apple, other"
	}
	raw := strings.TrimSpace(req.URL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return model.ExternalCalendar{}, "url must be an absolute feed URL"
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "webcal", "webcals":
	default:
		return model.ExternalCalendar{}, "url scheme must be http, https or webcal"
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return model.ExternalCalendar{
		OwnerID:  owner,
		Name:     name,
		Provider: provider,
		URL:      raw,
		Color:    strings.TrimSpace(req.Color),
		Enabled:  enabled,
	}, ""
}

type updateCalendarRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleUpdateCalendar toggles the enabled flag; URL and provider are
// fixed at creation.
func (s *Server) handleUpdateCalendar(w http.ResponseWriter, r *http.Request, owner string) {
	id := r.PathValue("id")
	var req updateCalendarRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	err := s.store.SetCalendarEnabled(r.Context(), owner, id, *req.Enabled)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "calendar not found")
		return
	}
	if err != nil {
		appLog.Error("api update calendar failed", err, "owner", owner, "calendar", id)
		writeError(w, http.StatusInternalServerError, "failed to update calendar")
		return
	}
	cal, err := s.store.Calendar(r.Context(), owner, id)
	if err != nil {
		appLog.Error("api update calendar reload failed", err, "owner", owner, "calendar", id)
		writeError(w, http.StatusInternalServerError, "failed to update calendar")
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

func (s *Server) handleDeleteCalendar(w http.ResponseWriter, r *http.Request, owner string) {
	id := r.PathValue("id")
	err := s.store.DeleteCalendar(r.Context(), owner, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "calendar not found")
		return
	}
	if err != nil {
		appLog.Error("api delete calendar failed", err, "owner", owner, "calendar", id)
		writeError(w, http.StatusInternalServerError, "failed to delete calendar")
		return
	}
	appLog.Info("calendar removed", "owner", owner, "calendar", id)
	w.WriteHeader(http.StatusNoContent)
}
