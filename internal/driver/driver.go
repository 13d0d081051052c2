// Package driver defines how the sync loop talks to the page: open a
// browsing context once, fetch the leaderboard repeatedly through it, and
// force a full reload when the content stops changing.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrFetchStatus is matched by StatusError for non-2xx responses.
var ErrFetchStatus = errors.New("unexpected fetch status")

// ErrScreenshotUnsupported is returned by drivers without a rendering surface.
var ErrScreenshotUnsupported = errors.New("screenshots not supported by driver")

// ErrNotOpen is returned when Fetch or Reload runs before Open.
var ErrNotOpen = errors.New("driver not open")

// FetchRequest describes one fetch of the leaderboard endpoint.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResult is the raw outcome of a fetch.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
	Duration   time.Duration
}

// StatusError reports a fetch that completed with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Is matches ErrFetchStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrFetchStatus
}

// CheckStatus returns a StatusError unless code is 2xx.
func CheckStatus(rawURL string, code int) error {
	if code < 200 || code > 299 {
		return &StatusError{URL: rawURL, StatusCode: code}
	}
	return nil
}

// Driver is a page driver.
type Driver interface {
	Open(ctx context.Context, targetURL string) error
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
	Reload(ctx context.Context) error
	Close() error
}

// Screenshotter captures the current browsing surface as an image.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Pacer gates fetches to a URL.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// NoCacheHeaders returns request headers that ask every cache layer to revalidate.
func NoCacheHeaders() http.Header {
	return http.Header{
		"Cache-Control": {"no-cache, no-store, must-revalidate"},
		"Pragma":        {"no-cache"},
		"Expires":       {"0"},
	}
}

// CacheBust returns rawURL with param set to token.
func CacheBust(rawURL, param, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if param == "" {
		return u.String(), nil
	}
	q := u.Query()
	q.Set(param, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
