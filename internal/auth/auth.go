// Package auth issues and verifies the HMAC-signed bearer tokens that
// identify an owner to the HTTP API and the calendar feed.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope limits what a token may be used for.
type Scope string

const (
	// ScopeAPI tokens authorize every endpoint and expire.
	ScopeAPI Scope = "api"
	// ScopeFeed tokens only open the owner's feed and never expire, so a
	// subscribed calendar app keeps working.
	ScopeFeed Scope = "feed"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrUnauthorized)
)

const issuer = "studycal"

// Claims are the JWT claims carried by every token.
type Claims struct {
	Scope Scope `json:"scope"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens with one shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: missing secret")
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for owner with the given scope.
//
// Feed tokens carry no time claims, so an owner's feed token (and with it
// the subscription URL) is the same on every call for a given secret.
func (i *Issuer) Issue(owner string, scope Scope) (string, error) {
	if owner == "" {
		return "", errors.New("auth: missing owner")
	}
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  issuer,
			Subject: owner,
		},
	}
	if scope != ScopeFeed {
		now := i.now()
		claims.IssuedAt = jwt.NewNumericDate(now)
		if i.ttl > 0 {
			claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
		}
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return tok, nil
}

// Verify checks a token and returns its owner and scope. Any "Bearer "
// prefix is ignored. Every failure wraps ErrUnauthorized.
func (i *Issuer) Verify(tokString string) (string, Scope, error) {
	tokString = stripBearer(tokString)
	if tokString == "" {
		return "", "", ErrMissingToken
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(tokString, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return "", "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	switch claims.Scope {
	case ScopeAPI, ScopeFeed:
	default:
		return "", "", fmt.Errorf("%w: unknown scope %q", ErrUnauthorized, claims.Scope)
	}
	return claims.Subject, claims.Scope, nil
}

// stripBearer removes an auth scheme prefix, matched case-insensitively.
func stripBearer(v string) string {
	v = strings.TrimSpace(v)
	const prefix = "bearer "
	if len(v) >= len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		v = v[len(prefix):]
	}
	return strings.TrimSpace(v)
}
