package auth

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/audit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/ratelimit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/registry"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/session"
)

type gateFixture struct {
	sessions *session.Manager
	reg      *registry.Registry
	limiter  *ratelimit.LoginLimiter
	gate     func(http.Handler) http.Handler
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	store := session.NewStore(time.Hour)
	sessions, err := session.NewManager(store,
		bytes.Repeat([]byte("h"), 32), bytes.Repeat([]byte("b"), 32),
		"gateway_session", false, time.Hour)
	require.NoError(t, err)

	reg := registry.New()
	limiter := ratelimit.New(5, time.Minute)
	rec := audit.NewRecorder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &gateFixture{
		sessions: sessions,
		reg:      reg,
		limiter:  limiter,
		gate:     Gate(sessions, reg, limiter, rec),
	}
}

// authenticate runs a request through Resolve and binds the session to a
// registered identity, returning the session cookie.
func (f *gateFixture) authenticate(t *testing.T, subjectID string) *http.Cookie {
	t.Helper()
	f.reg.Upsert(models.Identity{SubjectID: subjectID, AccessToken: "tok"})
	rec := httptest.NewRecorder()
	sess := f.sessions.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	f.sessions.Store().Bind(sess.Token, subjectID)
	return rec.Result().Cookies()[0]
}

func TestGateRedirectsAnonymous(t *testing.T) {
	f := newGateFixture(t)
	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for anonymous requests")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/api/v1/pods", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestGateRecordsReturnTo(t *testing.T) {
	f := newGateFixture(t)
	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/node", nil))

	// The anonymous session created by the gate holds the attempted path.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	sess, ok := f.sessions.Peek(req)
	require.True(t, ok)
	assert.Equal(t, "/dashboard/node", sess.ReturnTo)
}

func TestGatePassesAuthenticated(t *testing.T) {
	f := newGateFixture(t)
	cookie := f.authenticate(t, "sub-1")

	var sawIdentity *models.Identity
	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawIdentity = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sawIdentity)
	assert.Equal(t, "sub-1", sawIdentity.SubjectID)
}

func TestGateRecordsSubjectForOuterMiddleware(t *testing.T) {
	f := newGateFixture(t)
	cookie := f.authenticate(t, "sub-1")

	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// The logging middleware installs the recorder before the gate runs and
	// reads it after the handler returns.
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req = req.WithContext(WithSubjectRecorder(req.Context()))
	req.AddCookie(cookie)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "sub-1", RecordedSubject(req.Context()))
}

func TestRecordedSubjectWithoutRecorder(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RecordedSubject(req.Context()))
}

func TestGateResetsRateLimiter(t *testing.T) {
	f := newGateFixture(t)
	cookie := f.authenticate(t, "sub-1")

	// Exhaust the limiter for the caller's address first.
	ip := "192.0.2.1"
	for f.limiter.Allow(ip) {
	}

	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.RemoteAddr = ip + ":54321"
	req.AddCookie(cookie)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, f.limiter.Allow(ip), "authorized traffic clears login friction")
}

func TestGateRedirectsWhenSubjectUnregistered(t *testing.T) {
	f := newGateFixture(t)

	// Session bound to a subject the registry has never seen (e.g. after a
	// restart wiped the registry).
	rec0 := httptest.NewRecorder()
	sess := f.sessions.Resolve(rec0, httptest.NewRequest(http.MethodGet, "/", nil))
	f.sessions.Store().Bind(sess.Token, "ghost")

	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a registered identity")
	}))
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(rec0.Result().Cookies()[0])
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}
