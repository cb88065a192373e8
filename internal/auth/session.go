package auth

import (
	"sync"
	"time"
)

// Credential is the token pair held for one signed-in session.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// CredentialStore holds at most one credential. Only the Manager mutates it.
type CredentialStore interface {
	Credential() Credential
	SetCredential(Credential)
	Clear()
}

// Session is the per-user credential store plus the bits of login state the
// callback needs. It is scoped to one browser session and never shared
// across sessions.
type Session struct {
	ID        string
	UpdatedAt time.Time

	mu    sync.Mutex
	cred  Credential
	state string
	dirty bool
}

// NewSession returns a session seeded with a credential (possibly empty).
func NewSession(id string, cred Credential) *Session {
	return &Session{ID: id, cred: cred, UpdatedAt: time.Now()}
}

func (s *Session) Credential() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

func (s *Session) SetCredential(c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred != c {
		s.cred = c
		s.dirty = true
	}
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
	s.state = ""
	s.dirty = true
}

// SetState records the OAuth state issued with the last authorization redirect.
func (s *Session) SetState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.dirty = true
}

// TakeState returns the pending OAuth state and forgets it.
func (s *Session) TakeState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st != "" {
		s.state = ""
		s.dirty = true
	}
	return st
}

// State returns the pending OAuth state without consuming it.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dirty reports whether anything changed since the session was loaded or
// last marked clean.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) MarkClean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// RestoreSession rebuilds a persisted session without marking it dirty.
func RestoreSession(id string, cred Credential, state string, updatedAt time.Time) *Session {
	return &Session{ID: id, cred: cred, state: state, UpdatedAt: updatedAt}
}
