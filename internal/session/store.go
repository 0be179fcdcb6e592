// Package session correlates browser cookies with server-side authentication
// state. The cookie carries only an opaque token, signed and encrypted with
// securecookie; all state lives in an in-memory store.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
)

// Store holds all live sessions. Safe for concurrent use; every mutation for
// a session runs under the store lock, so a callback completing is visible to
// the very next request on the same session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	ttl      time.Duration
}

// NewStore creates a session store whose sessions expire after ttl.
// A janitor goroutine sweeps expired sessions for the life of the process.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Store{
		sessions: make(map[string]*models.Session),
		ttl:      ttl,
	}
	go s.janitor()
	return s
}

// Create makes a new anonymous session and returns a copy.
func (s *Store) Create() models.Session {
	now := time.Now()
	sess := &models.Session{
		Token:     uuid.New().String(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return *sess
}

// Get returns a copy of the session for token. Expired sessions read as absent.
func (s *Store) Get(token string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok || sess.IsExpired() {
		return models.Session{}, false
	}
	return *sess, true
}

// Bind attaches an identity reference to the session after a successful
// callback.
func (s *Store) Bind(token, subjectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[token]; ok {
		sess.SubjectID = subjectID
	}
}

// SetReturnTo records the path to resume after login completes.
func (s *Store) SetReturnTo(token, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[token]; ok {
		sess.ReturnTo = path
	}
}

// ConsumeReturnTo returns the recorded resume path (default "/") and clears it.
func (s *Store) ConsumeReturnTo(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok || sess.ReturnTo == "" {
		return "/"
	}
	path := sess.ReturnTo
	sess.ReturnTo = ""
	return path
}

// Downgrade drops the session back to anonymous and records the path that
// triggered the downgrade so login resumes there. Used on upstream 401.
func (s *Store) Downgrade(token, returnTo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[token]; ok {
		sess.SubjectID = ""
		sess.ReturnTo = returnTo
	}
}

// Clear removes the identity reference only; the identity itself stays in
// the registry until its tokens naturally expire.
func (s *Store) Clear(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[token]; ok {
		sess.SubjectID = ""
		sess.ReturnTo = ""
	}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) janitor() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		for token, sess := range s.sessions {
			if sess.IsExpired() {
				delete(s.sessions, token)
			}
		}
		s.mu.Unlock()
	}
}
