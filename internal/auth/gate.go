// Package auth implements the per-request authorization gate and the
// login/callback/logout lifecycle around the identity provider.
package auth

import (
	"net/http"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/audit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/ratelimit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/registry"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/session"
)

// Gate returns middleware guarding protected paths. A request passes iff its
// session is bound to a registered identity; the identity and session ride
// along in the request context. Anything else records the attempted path for
// resume-after-login and redirects to /login.
//
// Authorized traffic also resets the caller's login rate counter: a good
// session is the signal to clear prior login friction.
func Gate(sessions *session.Manager, reg *registry.Registry, limiter *ratelimit.LoginLimiter, rec *audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := sessions.Resolve(w, r)
			if sess.Authenticated() {
				if id, ok := reg.FindBySubject(sess.SubjectID); ok {
					limiter.Reset(audit.ClientIP(r))
					RecordSubject(r.Context(), sess.SubjectID)
					ctx := WithSession(r.Context(), sess)
					ctx = WithIdentity(ctx, &id)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				// Bound subject no longer registered (process restarted):
				// fall through to re-authentication.
			}

			sessions.Store().SetReturnTo(sess.Token, r.URL.Path)
			rec.Record(r.Context(), &models.AuthEvent{
				EventType: audit.EventUnauthorizedAccess,
				IPAddress: audit.ClientIP(r),
				Path:      r.URL.Path,
				Verb:      r.Method,
			})
			http.Redirect(w, r, "/login", http.StatusFound)
		})
	}
}
