package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"studycal/internal/auth"
	"studycal/internal/config"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/publish"
	"studycal/internal/syncer"
)

// Store is the part of the store the HTTP API reads and writes.
type Store interface {
	Calendars(_ context.Context, ownerID string) ([]model.ExternalCalendar, error)
	Calendar(_ context.Context, ownerID, id string) (model.ExternalCalendar, error)
	CreateCalendar(context.Context, *model.ExternalCalendar) error
	SetCalendarEnabled(_ context.Context, ownerID, id string, enabled bool) error
	DeleteCalendar(_ context.Context, ownerID, id string) error
	Events(_ context.Context, ownerID string) ([]model.ExternalEvent, error)
}

type Syncer interface {
	Sync(_ context.Context, ownerID, calendarID string) (syncer.Report, error)
}

type Publisher interface {
	Build(_ context.Context, ownerID string) (publish.Feed, error)
}

type Tokens interface {
	Issue(owner string, scope auth.Scope) (string, error)
	Verify(token string) (string, auth.Scope, error)
}

// Server provides the sync, calendar, agenda and feed HTTP APIs.
type Server struct {
	cfg       *config.Config
	mux       *http.ServeMux
	store     Store
	syncer    Syncer
	publisher Publisher
	tokens    Tokens
	now       func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, store Store, s Syncer, p Publisher, tokens Tokens) *Server {
	srv := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		store:     store,
		syncer:    s,
		publisher: p,
		tokens:    tokens,
		now:       time.Now,
	}
	srv.registerRoutes()
	return srv
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	hs := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/sync", s.requireAPI(s.handleSync))
	s.mux.HandleFunc("GET /api/calendars", s.requireAPI(s.handleListCalendars))
	s.mux.HandleFunc("POST /api/calendars", s.requireAPI(s.handleCreateCalendar))
	s.mux.HandleFunc("PATCH /api/calendars/{id}", s.requireAPI(s.handleUpdateCalendar))
	s.mux.HandleFunc("DELETE /api/calendars/{id}", s.requireAPI(s.handleDeleteCalendar))
	s.mux.HandleFunc("GET /api/events", s.requireAPI(s.handleEvents))
	s.mux.HandleFunc("GET /api/feed/url", s.requireAPI(s.handleFeedURL))

	// Subscription clients cannot send headers, so the feed also takes
	// the token as a query parameter.
	s.mux.HandleFunc("GET /feed.ics", s.handleFeed)
	s.mux.HandleFunc("GET /api/feed", s.handleFeed)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
