package auth

import (
	"context"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	sessionKey  contextKey = "session"
	recorderKey contextKey = "subject_recorder"
)

// subjectRecorder lets middleware that ran before the gate learn which
// subject the gate resolved. The gate derives a new context for the inner
// handler, so a plain context value set there is invisible to outer
// middleware; the recorder is a shared cell installed by the outer layer.
type subjectRecorder struct {
	subject string
}

// WithSubjectRecorder installs an empty recorder cell.
func WithSubjectRecorder(ctx context.Context) context.Context {
	return context.WithValue(ctx, recorderKey, &subjectRecorder{})
}

// RecordSubject fills the recorder cell, if one is installed.
func RecordSubject(ctx context.Context, subject string) {
	if rec, ok := ctx.Value(recorderKey).(*subjectRecorder); ok {
		rec.subject = subject
	}
}

// RecordedSubject returns the subject recorded during this request, or "".
func RecordedSubject(ctx context.Context) string {
	if rec, ok := ctx.Value(recorderKey).(*subjectRecorder); ok {
		return rec.subject
	}
	return ""
}

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated identity, or nil.
func IdentityFromContext(ctx context.Context) *models.Identity {
	v := ctx.Value(identityKey)
	if v == nil {
		return nil
	}
	id, _ := v.(*models.Identity)
	return id
}

// WithSession returns a context carrying the request's session.
func WithSession(ctx context.Context, sess models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the request's session. ok is false outside the
// authentication gate.
func SessionFromContext(ctx context.Context) (models.Session, bool) {
	v := ctx.Value(sessionKey)
	if v == nil {
		return models.Session{}, false
	}
	sess, ok := v.(models.Session)
	return sess, ok
}
