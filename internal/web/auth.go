package web

import (
	"net/http"
	"strings"

	"studycal/internal/auth"
	appLog "studycal/internal/log"
)

type ownerHandler func(w http.ResponseWriter, r *http.Request, owner string)

// requireAPI authenticates the Authorization header with an api-scope
// token before any handler work happens.
func (s *Server) requireAPI(next ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, scope, err := s.tokens.Verify(r.Header.Get("Authorization"))
		if err != nil || scope != auth.ScopeAPI {
			s.unauthorized(w, r, err)
			return
		}
		next(w, r, owner)
	}
}

// feedOwner accepts a token of either scope from the Authorization header
// or the token query parameter.
func (s *Server) feedOwner(r *http.Request) (string, error) {
	tok := r.Header.Get("Authorization")
	if strings.TrimSpace(tok) == "" {
		tok = r.URL.Query().Get("token")
	}
	owner, _, err := s.tokens.Verify(tok)
	return owner, err
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = auth.ErrUnauthorized
	}
	appLog.Debug("request rejected", "path", r.URL.Path, "err", err)
	w.Header().Set("WWW-Authenticate", `Bearer realm="studycal"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}
