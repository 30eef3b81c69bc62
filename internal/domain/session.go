package domain

import "sync"

// AuthState tracks where a run's browser session is in the login flow.
type AuthState string

const (
	AuthUnauthenticated AuthState = "unauthenticated"
	AuthAwaitingLogin   AuthState = "awaiting-manual-login"
	AuthAuthenticated   AuthState = "authenticated"
)

// ExtractionSession is the per-run state shared by the gate and the
// extractor. It is owned by the orchestrator and never reused across runs.
type ExtractionSession struct {
	mu     sync.Mutex
	auth   AuthState
	cursor string
	pages  int
}

// NewExtractionSession returns an unauthenticated session state.
func NewExtractionSession() *ExtractionSession {
	return &ExtractionSession{auth: AuthUnauthenticated}
}

// Auth returns the current authentication state.
func (s *ExtractionSession) Auth() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// SetAuth moves the session to a new authentication state.
func (s *ExtractionSession) SetAuth(a AuthState) {
	s.mu.Lock()
	s.auth = a
	s.mu.Unlock()
}

// Cursor returns the pagination token of the page being read.
func (s *ExtractionSession) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Advance records that the extractor moved to the page named by cursor.
func (s *ExtractionSession) Advance(cursor string) {
	s.mu.Lock()
	s.cursor = cursor
	s.pages++
	s.mu.Unlock()
}

// Pages returns how many pages have been visited.
func (s *ExtractionSession) Pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}
