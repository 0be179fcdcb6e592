// Package audit records authentication events. Events always go to the
// structured log; when a repository is configured they are persisted too.
package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/repository"
)

// Event types.
const (
	EventLoginAttempt       = "login_attempt"
	EventLoginSuccess       = "login_success"
	EventLoginFailure       = "login_failure"
	EventLoginBlocked       = "login_blocked"
	EventLogout             = "logout"
	EventUnauthorizedAccess = "unauthorized_access"
	EventUpstreamRejected   = "upstream_rejected"
)

// Recorder writes audit events. A nil repository disables persistence.
type Recorder struct {
	repo *repository.SQLiteRepository
	log  *slog.Logger
}

// NewRecorder creates a recorder. repo may be nil.
func NewRecorder(repo *repository.SQLiteRepository, log *slog.Logger) *Recorder {
	return &Recorder{repo: repo, log: log}
}

// Record logs one event and, when configured, persists it. Persistence
// failures are logged but never surfaced to the caller.
func (r *Recorder) Record(ctx context.Context, e *models.AuthEvent) {
	r.log.Info("auth event",
		"event", e.EventType,
		"subject", e.SubjectID,
		"principal", e.Principal,
		"ip", e.IPAddress,
		"path", e.Path,
		"verb", e.Verb,
	)
	if r.repo == nil {
		return
	}
	if err := r.repo.CreateAuthEvent(ctx, e); err != nil {
		r.log.Error("failed to persist auth event", "event", e.EventType, "error", err)
	}
}

// ClientIP extracts the caller's address, honoring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
