package models

import "time"

// AuthEvent represents an authentication event for audit logging.
type AuthEvent struct {
	ID        string    `json:"id" db:"id"`
	SubjectID string    `json:"subject_id,omitempty" db:"subject_id"`
	Principal string    `json:"principal" db:"principal"`
	EventType string    `json:"event_type" db:"event_type"` // login_attempt, login_success, login_failure, login_blocked, logout, unauthorized_access, upstream_rejected
	IPAddress string    `json:"ip_address" db:"ip_address"`
	Path      string    `json:"path,omitempty" db:"path"`
	Verb      string    `json:"verb,omitempty" db:"verb"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Details   string    `json:"details,omitempty" db:"details"`
}
