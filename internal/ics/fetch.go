package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "studycal/internal/log"
)

// ErrBodyTooLarge is wrapped by a FetchError when a feed exceeds the
// configured size cap.
var ErrBodyTooLarge = errors.New("feed body exceeds size limit")

// FetchError describes a failed feed GET: a network failure, timeout,
// unsupported URL or non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int // zero unless the server answered
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d %s", RedactURL(e.URL), e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %v", RedactURL(e.URL), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher performs plain HTTP GETs of ICS feeds. It does not retry.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewFetcher creates a Fetcher whose requests are bounded by timeout
// and whose bodies are capped at maxBodyBytes.
func NewFetcher(timeout time.Duration, userAgent string, maxBodyBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	return &Fetcher{
		client:       &http.Client{Timeout: timeout},
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}
}

// Fetch GETs rawURL and returns the body. Every failure is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := feedURL(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.1")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	appLog.Debug("ics fetch start", "url", RedactURL(target))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &FetchError{URL: rawURL, Err: ErrBodyTooLarge}
	}

	appLog.Debug("ics fetch success", "url", RedactURL(target), "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

// feedURL validates a feed URL and rewrites webcal:// subscription links
// to https://.
func feedURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("feed URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "webcal", "webcals":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported feed URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("feed URL has no host")
	}
	return u.String(), nil
}

// RedactURL hides everything after the host, since private feed URLs
// carry their secret in the path or query.
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
