// Package remote acquires browser sessions from a Selenium Grid compatible
// automation backend and drives them over the session's CDP endpoint.
package remote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrBackendNotReady means the backend never reported ready within the
	// readiness timeout. No session was requested.
	ErrBackendNotReady = errors.New("automation backend not ready")

	// ErrSessionUnavailable means session creation failed permanently or
	// ran out of attempts.
	ErrSessionUnavailable = errors.New("remote session unavailable")

	// ErrNotFound means an element did not appear within its timeout.
	ErrNotFound = errors.New("element not found")

	// ErrSessionClosed is returned by a session after Close.
	ErrSessionClosed = errors.New("session closed")
)

// Element is a located DOM element.
type Element interface {
	Text(ctx context.Context) (string, error)
	// Attr returns the attribute value and whether it is present.
	Attr(ctx context.Context, name string) (string, bool, error)
	Click(ctx context.Context) error
}

// Page is the browser half of a session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Locate waits up to timeout for selector. A miss returns ErrNotFound.
	Locate(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Session is an acquired remote browser. Close releases the backend slot
// and is safe to call more than once.
type Session interface {
	Page
	ID() string
}

// session ties a connected page to its backend slot.
type session struct {
	id      string
	page    Page
	release func(ctx context.Context) error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Session = (*session)(nil)

func (s *session) ID() string { return s.id }

func (s *session) Navigate(ctx context.Context, url string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.page.Navigate(ctx, url)
}

func (s *session) Locate(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return s.page.Locate(ctx, selector, timeout)
}

func (s *session) HTML(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", ErrSessionClosed
	}
	return s.page.HTML(ctx)
}

// Close disconnects the browser and deletes the backend session once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		pageErr := s.page.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var releaseErr error
		if s.release != nil {
			releaseErr = s.release(ctx)
		}
		s.closeErr = errors.Join(pageErr, releaseErr)
	})
	return s.closeErr
}
