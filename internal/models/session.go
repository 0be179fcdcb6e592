package models

import "time"

// Session correlates one browser's cookie with its authentication state.
// SubjectID is a reference into the identity registry, not a copy, so a token
// refreshed by a later callback is visible to every session bound to the same
// subject.
type Session struct {
	Token     string    `json:"token"`
	SubjectID string    `json:"subject_id,omitempty"`
	ReturnTo  string    `json:"return_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticated returns true if the session is bound to an identity.
func (s *Session) Authenticated() bool {
	return s.SubjectID != ""
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
