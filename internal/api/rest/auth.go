package rest

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/audit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/auth/oidc"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/pkg/metrics"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/ratelimit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/registry"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/session"
)

// AuthHandler drives the login, callback and logout endpoints.
type AuthHandler struct {
	provider *oidc.Provider
	sessions *session.Manager
	reg      *registry.Registry
	limiter  *ratelimit.LoginLimiter
	rec      *audit.Recorder
	window   int // rate-limit window in seconds, for Retry-After
	log      *slog.Logger
}

// NewAuthHandler creates the authentication handler.
func NewAuthHandler(provider *oidc.Provider, sessions *session.Manager, reg *registry.Registry,
	limiter *ratelimit.LoginLimiter, rec *audit.Recorder, windowSec int, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		sessions: sessions,
		reg:      reg,
		limiter:  limiter,
		rec:      rec,
		window:   windowSec,
		log:      log,
	}
}

// Login starts the authorization-code flow. The rate limit is checked before
// any provider round trip so hammering this endpoint cannot reach the
// identity provider.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ip := audit.ClientIP(r)
	if !h.limiter.Allow(ip) {
		metrics.LoginAttemptsTotal.WithLabelValues("blocked").Inc()
		h.rec.Record(r.Context(), &models.AuthEvent{
			EventType: audit.EventLoginBlocked,
			IPAddress: ip,
			Path:      r.URL.Path,
			Verb:      r.Method,
		})
		w.Header().Set("Retry-After", strconv.Itoa(h.window))
		respondError(w, http.StatusTooManyRequests, "Too many login attempts, try again later")
		return
	}

	// Make sure a session cookie exists before leaving for the provider so
	// the callback can bind the identity to it.
	h.sessions.Resolve(w, r)

	state, err := h.provider.GenerateState()
	if err != nil {
		h.log.Error("failed to generate state", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to start login")
		return
	}
	metrics.LoginAttemptsTotal.WithLabelValues("started").Inc()
	h.rec.Record(r.Context(), &models.AuthEvent{
		EventType: audit.EventLoginAttempt,
		IPAddress: ip,
		Path:      r.URL.Path,
		Verb:      r.Method,
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback finishes the flow. The provider posts the code back
// (response_mode=form_post); a plain GET with query parameters is accepted
// too for providers configured without form posts.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ip := audit.ClientIP(r)

	code, state := r.URL.Query().Get("code"), r.URL.Query().Get("state")
	if code == "" {
		if err := r.ParseForm(); err != nil {
			h.fail(w, r, ip, "malformed callback form: "+err.Error())
			return
		}
		code, state = r.PostFormValue("code"), r.PostFormValue("state")
	}
	if code == "" {
		h.fail(w, r, ip, "callback without authorization code")
		return
	}
	if !h.provider.ValidateState(state) {
		h.fail(w, r, ip, "invalid or expired state")
		return
	}

	token, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.fail(w, r, ip, "code exchange failed: "+err.Error())
		return
	}
	idToken, claims, err := h.provider.VerifyIDToken(r.Context(), token)
	if err != nil {
		h.fail(w, r, ip, "id token verification failed: "+err.Error())
		return
	}
	identity, err := oidc.IdentityFromToken(token, idToken, claims)
	if err != nil {
		h.fail(w, r, ip, "identity extraction failed: "+err.Error())
		return
	}

	stored := h.reg.Upsert(identity)

	sess := h.sessions.Resolve(w, r)
	h.sessions.Store().Bind(sess.Token, stored.SubjectID)

	h.limiter.Reset(ip)
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	h.rec.Record(r.Context(), &models.AuthEvent{
		SubjectID: stored.SubjectID,
		Principal: stored.PrincipalName,
		EventType: audit.EventLoginSuccess,
		IPAddress: ip,
		Path:      r.URL.Path,
		Verb:      r.Method,
	})
	h.log.Info("login completed", "subject", stored.SubjectID, "principal", stored.PrincipalName)

	target := h.sessions.Store().ConsumeReturnTo(sess.Token)
	http.Redirect(w, r, target, http.StatusFound)
}

// Logout unbinds the identity from the session. The registry record and its
// tokens are kept; only the session association goes away.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Peek(r)
	if ok && sess.Authenticated() {
		h.rec.Record(r.Context(), &models.AuthEvent{
			SubjectID: sess.SubjectID,
			EventType: audit.EventLogout,
			IPAddress: audit.ClientIP(r),
			Path:      r.URL.Path,
			Verb:      r.Method,
		})
		h.sessions.Store().Clear(sess.Token)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Logged out.\n"))
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, ip, reason string) {
	metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
	h.log.Warn("login failed", "reason", reason, "ip", ip)
	h.rec.Record(r.Context(), &models.AuthEvent{
		EventType: audit.EventLoginFailure,
		IPAddress: ip,
		Path:      r.URL.Path,
		Verb:      r.Method,
		Details:   reason,
	})
	http.Redirect(w, r, "/error", http.StatusFound)
}
