package web

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"studycal/internal/auth"
	appLog "studycal/internal/log"
	"studycal/internal/publish"
)

// handleFeed serves the caller's schedule as an ICS document.
//
// GET /feed.ics?token=...            subscription URL
// GET /api/feed  (Authorization)     same document
//   - format=json  returns publish.Stats instead of the body
//   - download=1   adds Content-Disposition: attachment
//
// The document is built in memory first, so a failure is always a JSON
// 500 and never a truncated calendar.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	owner, err := s.feedOwner(r)
	if err != nil {
		s.unauthorized(w, r, err)
		return
	}

	feed, err := s.publisher.Build(r.Context(), owner)
	if err != nil {
		appLog.Error("feed generation failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "failed to generate calendar feed")
		return
	}

	q := r.URL.Query()
	if q.Get("format") == "json" {
		writeJSON(w, http.StatusOK, feed.Stats)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/calendar; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(feed.Body)))
	h.Set("Cache-Control", "no-cache")
	if isTrue(q.Get("download")) {
		h.Set("Content-Disposition", `attachment; filename="`+publish.Filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(feed.Body)
}

type feedURLResponse struct {
	URL string `json:"url"`
}

// handleFeedURL returns a subscription URL carrying a non-expiring
// feed-scope token, so leaking it never exposes the rest of the API.
func (s *Server) handleFeedURL(w http.ResponseWriter, r *http.Request, owner string) {
	tok, err := s.tokens.Issue(owner, auth.ScopeFeed)
	if err != nil {
		appLog.Error("issuing feed token failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "failed to issue feed token")
		return
	}
	writeJSON(w, http.StatusOK, feedURLResponse{
		URL: s.baseURL(r) + "/feed.ics?token=" + url.QueryEscape(tok),
	})
}

// baseURL prefers the configured public URL and otherwise derives one
// from the request.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg != nil && s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
